// Command pagewave runs one pagewave process: either the master (escalation,
// aggregation, maintenance, and an RPC listener for inbound out-of-band
// sends) or a slave (a Dispatcher pool plus an RPC listener relaying sends
// from the master), per PAGEWAVE_MODE. Both modes also serve the ambient
// health/metrics HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pagewave/pagewave/internal/config"
	"github.com/pagewave/pagewave/internal/hmacauth"
	"github.com/pagewave/pagewave/internal/httpserver"
	"github.com/pagewave/pagewave/internal/platform"
	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/internal/telemetry"
	"github.com/pagewave/pagewave/pkg/aggregation"
	"github.com/pagewave/pagewave/pkg/cache"
	"github.com/pagewave/pagewave/pkg/contact"
	"github.com/pagewave/pagewave/pkg/dispatch"
	"github.com/pagewave/pagewave/pkg/escalation"
	"github.com/pagewave/pagewave/pkg/maintenance"
	"github.com/pagewave/pagewave/pkg/render"
	"github.com/pagewave/pagewave/pkg/rpc"
	"github.com/pagewave/pagewave/pkg/target"
	"github.com/pagewave/pagewave/pkg/vendor"
	"github.com/pagewave/pagewave/pkg/vendor/chatvendor"
	"github.com/pagewave/pagewave/pkg/vendor/emailvendor"
	"github.com/pagewave/pagewave/pkg/vendor/voicevendor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pagewave:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting pagewave", "mode", cfg.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	queries := store.New(db)
	refCache := cache.New(queries, logger)
	if err := refCache.Refresh(ctx); err != nil {
		return fmt.Errorf("loading reference cache: %w", err)
	}
	go refCache.RunRefreshLoop(ctx, 30*time.Second)

	vendors := buildVendorRegistry(cfg)
	contacts := contact.New(queries, refCache, rdb, cfg.TargetFallbackMode)
	renderer := render.New(refCache, oneclickConfig(cfg))

	sendQueue := make(chan store.Message, 1024)
	batchQueue := make(chan aggregation.Batch, 256)

	var rpcSigner *hmacauth.Signer
	if cfg.OneclickSecret != "" {
		rpcSigner = hmacauth.NewSigner(cfg.OneclickSecret)
	}

	slaves := make([]dispatch.SlaveClient, 0, len(cfg.SlaveAddrs))
	for _, addr := range cfg.SlaveAddrs {
		slaves = append(slaves, rpc.NewClient(addr, rpcSigner, cfg.SlaveDialTimeout))
	}

	d := dispatch.New(queries, refCache, contacts, renderer, vendors, logger, sendQueue, batchQueue, dispatch.Config{
		Workers:             cfg.WorkerCount,
		Slaves:              slaves,
		NumSlaves:           len(slaves),
		SlaveRequestTimeout: cfg.SlaveRequestTimeout,
		VendorSendTimeout:   cfg.VendorSendTimeout,
	})

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)
	httpSrv := httpserver.NewServer(httpserver.ServerConfig{Mode: cfg.Mode}, logger, db, rdb, metricsReg)

	rpcServer := rpc.NewServer(cfg.RPCListenAddr, rpcSigner, logger, sendQueue, d)

	group := newRunGroup()
	group.go_(func() error { return httpListenAndServe(ctx, cfg.ListenAddr(), httpSrv) })
	group.go_(func() error { d.Run(ctx); return nil })
	group.go_(func() error { return rpcServer.ListenAndServe(ctx) })

	if cfg.Mode == "master" {
		targets := target.New(queries)
		escalationEngine := escalation.New(queries, refCache, targets, logger)
		aggregationEngine := aggregation.New(queries, refCache, logger, sendQueue, batchQueue)
		loop := maintenance.New(escalationEngine, aggregationEngine, queries, logger, maintenance.Config{
			TickInterval:       cfg.MaintenanceInterval,
			PruneInterval:      cfg.ChangelogPruneEvery,
			ChangelogRetention: cfg.ChangelogRetention,
		})
		group.go_(func() error { loop.Run(ctx); return nil })
	}

	return group.wait()
}

// buildVendorRegistry wires every configured vendor credential into the
// registry. A vendor with no credentials is simply left unregistered —
// the Dispatcher reports a clean "no plugin registered" error rather than
// sending through a half-configured client.
func buildVendorRegistry(cfg *config.Config) *vendor.Registry {
	r := vendor.NewRegistry()

	if cfg.SendgridAPIKey != "" {
		r.Register("email", emailvendor.New(cfg.SendgridAPIKey, cfg.SendgridFromAddr, "pagewave"))
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		r.Register("sms", voicevendor.NewSMSVendor(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber))
		r.Register("call", voicevendor.NewCallVendor(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber,
			cfg.OneclickBaseURL+"/twiml"))
	}
	switch {
	case cfg.SlackBotToken != "":
		r.Register("chat", chatvendor.NewSlackVendor(cfg.SlackBotToken, cfg.SlackChannel))
	case cfg.MattermostURL != "" && cfg.MattermostBotToken != "" && cfg.MattermostChannelID != "":
		client := chatvendor.NewRESTMattermostClient(cfg.MattermostURL, cfg.MattermostBotToken)
		r.Register("chat", chatvendor.NewMattermostVendor(client, cfg.MattermostChannelID))
	}

	return r
}

func oneclickConfig(cfg *config.Config) render.OneclickConfig {
	if !cfg.OneclickEnabled || cfg.OneclickSecret == "" {
		return render.OneclickConfig{}
	}
	return render.OneclickConfig{
		Enabled: true,
		Signer:  hmacauth.NewSigner(cfg.OneclickSecret),
		BaseURL: cfg.OneclickBaseURL,
		Cmd:     "ack",
	}
}

func httpListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// runGroup runs a fixed set of background functions and waits for all of
// them to return, collecting the first non-nil error.
type runGroup struct {
	errCh chan error
	n     int
}

func newRunGroup() *runGroup {
	return &runGroup{errCh: make(chan error)}
}

func (g *runGroup) go_(fn func() error) {
	g.n++
	go func() { g.errCh <- fn() }()
}

func (g *runGroup) wait() error {
	var first error
	for i := 0; i < g.n; i++ {
		if err := <-g.errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}
