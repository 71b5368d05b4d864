// Package rpc implements pagewave's two RPC channels (spec §4.6): the
// inbound API→sender socket that feeds out-of-band messages into the
// Dispatcher's send queue, and the master→slave channel a Dispatcher uses
// to forward a resolved, rendered job to a remote vendor-send-only process.
// Both share one length-prefixed msgpack frame over plain TCP — the pack
// carries no RPC framework with this shape (the teacher's own inter-service
// calls are all HTTP), so the wire format follows spec §6 directly using
// vmihailenco/msgpack/v5's Marshal/Unmarshal (used only by this package).
package rpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pagewave/pagewave/internal/hmacauth"
	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/dispatch"
)

// Endpoint names routed by the server's single frame handler.
const (
	EndpointSend  = "v0/send"  // API -> sender: an out-of-band store.Message
	EndpointRelay = "v0/relay" // master -> slave: a resolved dispatch.Job
)

// maxFrameBytes bounds a single frame so a malformed length prefix can't
// make the server allocate unbounded memory.
const maxFrameBytes = 1 << 20

// envelope is the wire shape shared by both RPC channels.
type envelope struct {
	Endpoint string `msgpack:"endpoint"`
	Data     []byte `msgpack:"data"`
	Auth     string `msgpack:"auth,omitempty"`
}

// reply is what every frame gets back: a msgpack map with an "ok" flag and,
// on failure, an "error" string; it is not a bare "OK" string.
type reply struct {
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"error,omitempty"`
}

// Server accepts one frame per connection, routes it by endpoint, and
// writes back a reply frame.
type Server struct {
	addr       string
	signer     *hmacauth.Signer // nil disables signature verification
	logger     *slog.Logger
	sendQueue  chan<- store.Message
	dispatcher *dispatch.Dispatcher
}

// NewServer creates a Server. signer may be nil on a slave that only
// trusts its master over a private network.
func NewServer(addr string, signer *hmacauth.Signer, logger *slog.Logger, sendQueue chan<- store.Message, dispatcher *dispatch.Dispatcher) *Server {
	return &Server{addr: addr, signer: signer, logger: logger, sendQueue: sendQueue, dispatcher: dispatcher}
}

// ListenAndServe blocks accepting connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("rpc server listening", "addr", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Error("accepting rpc connection", "error", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	body, err := readFrameBytes(conn)
	if err != nil {
		s.logger.Warn("reading rpc frame", "error", err)
		return
	}
	var env envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		s.logger.Warn("decoding rpc envelope", "error", err)
		return
	}

	if s.signer != nil && !s.signer.Verify(env.Auth, "RPC", env.Endpoint, "", env.Data) {
		_ = writeFrame(conn, reply{OK: false, Error: "invalid signature"})
		return
	}

	if err := s.route(ctx, env); err != nil {
		_ = writeFrame(conn, reply{OK: false, Error: err.Error()})
		return
	}
	_ = writeFrame(conn, reply{OK: true})
}

func (s *Server) route(ctx context.Context, env envelope) error {
	switch env.Endpoint {
	case EndpointSend:
		var msg store.Message
		if err := msgpack.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("decoding message: %w", err)
		}
		select {
		case s.sendQueue <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case EndpointRelay:
		if s.dispatcher == nil {
			return errors.New("this process has no local dispatcher to relay to")
		}
		var job dispatch.Job
		if err := msgpack.Unmarshal(env.Data, &job); err != nil {
			return fmt.Errorf("decoding relay job: %w", err)
		}
		_, err := s.dispatcher.SendLocal(ctx, job)
		return err
	default:
		return fmt.Errorf("unknown endpoint %q", env.Endpoint)
	}
}

// Client is the master-side connection to one slave. It implements
// dispatch.SlaveClient, so a Dispatcher's slave list can be built directly
// from a set of Clients.
type Client struct {
	addr        string
	signer      *hmacauth.Signer
	dialTimeout time.Duration
}

// NewClient creates a Client targeting a slave's RPC listener address.
// dialTimeout of zero defaults to 3s.
func NewClient(addr string, signer *hmacauth.Signer, dialTimeout time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	return &Client{addr: addr, signer: signer, dialTimeout: dialTimeout}
}

// Send relays job to the slave's v0/relay endpoint and waits for its reply.
func (c *Client) Send(ctx context.Context, job dispatch.Job) (time.Duration, error) {
	start := time.Now()

	data, err := msgpack.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("encoding relay job: %w", err)
	}
	env := envelope{Endpoint: EndpointRelay, Data: data}
	if c.signer != nil {
		env.Auth = c.signer.Sign("RPC", EndpointRelay, "", data)
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return 0, fmt.Errorf("dialing slave %s: %w", c.addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, env); err != nil {
		return 0, fmt.Errorf("writing relay frame: %w", err)
	}

	body, err := readFrameBytes(conn)
	if err != nil {
		return 0, fmt.Errorf("reading relay reply: %w", err)
	}
	var rep reply
	if err := msgpack.Unmarshal(body, &rep); err != nil {
		return 0, fmt.Errorf("decoding relay reply: %w", err)
	}
	if !rep.OK {
		return 0, fmt.Errorf("slave %s: %s", c.addr, rep.Error)
	}
	return time.Since(start), nil
}

// readFrameBytes reads one length-prefixed frame's body.
func readFrameBytes(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d byte limit", n, maxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// writeFrame msgpack-encodes v and writes it as one length-prefixed frame.
func writeFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("encoded frame of %d bytes exceeds %d byte limit", len(body), maxFrameBytes)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}
