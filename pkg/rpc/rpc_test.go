package rpc

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pagewave/pagewave/internal/hmacauth"
	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
	"github.com/pagewave/pagewave/pkg/contact"
	"github.com/pagewave/pagewave/pkg/dispatch"
	"github.com/pagewave/pagewave/pkg/render"
	"github.com/pagewave/pagewave/pkg/vendor"
)

type countingVendor struct{ sends int }

func (c *countingVendor) Send(ctx context.Context, msg vendor.Message) (time.Duration, error) {
	c.sends++
	return time.Millisecond, nil
}

// freeTCPAddr reserves a loopback port by binding and immediately
// releasing it, so the real server can bind the same address deterministically.
func freeTCPAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startTestServer(t *testing.T, signer *hmacauth.Signer, sendQueue chan store.Message, d *dispatch.Dispatcher) (string, context.CancelFunc) {
	t.Helper()
	addr := freeTCPAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(addr, signer, slog.Default(), sendQueue, d)
	go func() {
		_ = srv.ListenAndServe(ctx)
	}()
	time.Sleep(50 * time.Millisecond) // let the listener bind before the first dial
	return addr, cancel
}

func testDispatcher(vendors *vendor.Registry) *dispatch.Dispatcher {
	queries := store.New(nil)
	c := cache.New(queries, slog.Default())
	contacts := contact.New(queries, c, nil, "email")
	renderer := render.New(c, render.OneclickConfig{})
	return dispatch.New(queries, c, contacts, renderer, vendors, slog.Default(), nil, nil, dispatch.Config{Workers: 1})
}

func TestClientServer_RelayRoundTrip(t *testing.T) {
	vendors := vendor.NewRegistry()
	cv := &countingVendor{}
	vendors.Register("email", cv)

	addr, cancel := startTestServer(t, nil, make(chan store.Message, 1), testDispatcher(vendors))
	defer cancel()

	client := NewClient(addr, nil, 0)
	latency, err := client.Send(context.Background(), dispatch.Job{
		ModeName: "email",
		Message:  vendor.Message{Destination: "oncall@example.com", Subject: "hi", Body: "body"},
	})
	require.NoError(t, err)
	require.Greater(t, latency, time.Duration(0))
	require.Equal(t, 1, cv.sends)
}

func TestClientServer_RejectsBadSignature(t *testing.T) {
	signer := hmacauth.NewSigner("shared-secret")
	addr, cancel := startTestServer(t, signer, make(chan store.Message, 1), testDispatcher(vendor.NewRegistry()))
	defer cancel()

	client := NewClient(addr, hmacauth.NewSigner("wrong-secret"), 0)
	_, err := client.Send(context.Background(), dispatch.Job{ModeName: "email"})
	require.Error(t, err)
}

func TestClientServer_SendRoutesOntoQueue(t *testing.T) {
	queue := make(chan store.Message, 1)
	addr, cancel := startTestServer(t, nil, queue, testDispatcher(vendor.NewRegistry()))
	defer cancel()

	data, err := msgpack.Marshal(store.Message{Body: "out of band"})
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, envelope{Endpoint: EndpointSend, Data: data}))
	body, err := readFrameBytes(conn)
	require.NoError(t, err)

	var rep reply
	require.NoError(t, msgpack.Unmarshal(body, &rep))
	require.True(t, rep.OK)

	select {
	case msg := <-queue:
		require.Equal(t, "out of band", msg.Body)
	case <-time.After(time.Second):
		t.Fatal("message was not routed onto the send queue")
	}
}

func TestWriteFrame_RejectsOversizedPayload(t *testing.T) {
	err := writeFrame(discard{}, struct{ Data []byte }{Data: make([]byte, maxFrameBytes+1)})
	require.Error(t, err)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
