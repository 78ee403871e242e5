package session

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/services"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type frame struct {
	req models.ChatRequest
	err error
}

type fakeConn struct {
	frames  chan frame
	sendErr error // returned from the first send when set

	mu        sync.Mutex
	sent      []models.Notification
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan frame, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadRequest(ctx context.Context) (models.ChatRequest, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return models.ChatRequest{}, io.EOF
		}
		return f.req, f.err
	case <-c.closed:
		return models.ChatRequest{}, io.ErrClosedPipe
	}
}

func (c *fakeConn) Send(ctx context.Context, n models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) notifications() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Notification(nil), c.sent...)
}

func (c *fakeConn) waitFor(t *testing.T, n int) []models.Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got := c.notifications(); len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("got %d notifications; want %d", len(c.notifications()), n)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// echoRunner streams each word of the message as a chunk.
type echoRunner struct{}

func (echoRunner) StreamTurn(ctx context.Context, req models.ChatRequest, send services.Notifier) error {
	var full strings.Builder
	for _, w := range strings.Fields(req.Message) {
		full.WriteString(w)
		if err := send(ctx, models.ChunkNotification(w, full.String())); err != nil {
			return err
		}
	}
	return send(ctx, models.CompleteNotification(full.String(), time.Now()))
}

// blockingRunner sends one chunk and then waits for cancellation.
type blockingRunner struct {
	cancelled chan struct{}
}

func (r *blockingRunner) StreamTurn(ctx context.Context, req models.ChatRequest, send services.Notifier) error {
	if err := send(ctx, models.ChunkNotification("partial", "partial")); err != nil {
		return err
	}
	<-ctx.Done()
	close(r.cancelled)
	return ctx.Err()
}

func serve(c *Controller) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestControllerMultipleTurns(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	c := New(conn, echoRunner{}, zap.NewNop())
	done := serve(c)

	conn.frames <- frame{req: models.ChatRequest{Message: "one two"}}
	conn.frames <- frame{req: models.ChatRequest{Message: "three"}}
	got := conn.waitFor(t, 5)
	close(conn.frames)

	if err := waitDone(t, done); !errors.Is(err, io.EOF) {
		t.Fatalf("Serve() error = %v; want io.EOF", err)
	}

	want := []string{"chunk:one", "chunk:two", "complete:one two", "chunk:three", "complete:three"}
	for i, n := range got {
		var desc string
		if n.Type == models.NotificationChunk {
			desc = fmt.Sprintf("chunk:%s", n.Content)
		} else {
			desc = fmt.Sprintf("%s:%s", n.Type, n.Message)
		}
		if desc != want[i] {
			t.Fatalf("notifications[%d] = %s; want %s", i, desc, want[i])
		}
	}
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection not closed after Serve returned")
	}
}

func TestControllerMalformedFrameKeepsConnection(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	c := New(conn, echoRunner{}, zap.NewNop())
	done := serve(c)

	conn.frames <- frame{err: fmt.Errorf("%w: unexpected end of JSON input", ErrMalformedRequest)}
	conn.frames <- frame{req: models.ChatRequest{Message: "still here"}}
	got := conn.waitFor(t, 4)
	close(conn.frames)
	waitDone(t, done)

	if got[0].Type != models.NotificationError || !strings.Contains(got[0].Message, "malformed request") {
		t.Fatalf("notifications[0] = %+v; want malformed request error", got[0])
	}
	if got[3].Type != models.NotificationComplete || got[3].Message != "still here" {
		t.Fatalf("notifications[3] = %+v; want complete for the next request", got[3])
	}
}

func TestControllerConnectionLossCancelsTurn(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	runner := &blockingRunner{cancelled: make(chan struct{})}
	c := New(conn, runner, zap.NewNop())
	done := serve(c)

	conn.frames <- frame{req: models.ChatRequest{Message: "hi"}}
	conn.waitFor(t, 1)
	close(conn.frames) // client goes away mid-turn

	select {
	case <-runner.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight turn was not cancelled")
	}
	if err := waitDone(t, done); !errors.Is(err, io.EOF) {
		t.Fatalf("Serve() error = %v; want io.EOF", err)
	}
	for _, n := range conn.notifications() {
		if n.Type == models.NotificationComplete {
			t.Fatal("complete sent after connection loss")
		}
	}
}

func TestControllerSendFailureEndsSession(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	c := New(conn, echoRunner{}, zap.NewNop())
	done := serve(c)

	conn.frames <- frame{req: models.ChatRequest{Message: "hello"}}
	if err := waitDone(t, done); err == nil || err.Error() != "broken pipe" {
		t.Fatalf("Serve() error = %v; want broken pipe", err)
	}
	if c.State() != Failed {
		t.Fatalf("State() = %s; want %s", c.State(), Failed)
	}
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection not closed after send failure")
	}
}

func TestControllerStopsWithContext(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	c := New(conn, echoRunner{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()
	cancel()

	if err := waitDone(t, done); !errors.Is(err, context.Canceled) && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Serve() error = %v; want context.Canceled", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	if got := Streaming.String(); got != "streaming" {
		t.Fatalf("Streaming.String() = %q; want streaming", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Fatalf("State(42).String() = %q", got)
	}
}
