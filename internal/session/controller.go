// Package session drives one streaming connection: it reads chat requests,
// runs them one at a time and relays notifications back to the client.
package session

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/services"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMalformedRequest marks a frame that could not be decoded. The connection
// survives it.
var ErrMalformedRequest = errors.New("malformed request")

// Conn is the transport under a session.
type Conn interface {
	// ReadRequest blocks for the next request. Errors wrapping
	// ErrMalformedRequest are recoverable; any other error ends the session.
	ReadRequest(ctx context.Context) (models.ChatRequest, error)
	Send(ctx context.Context, n models.Notification) error
	Close() error
}

// TurnRunner executes one chat turn.
type TurnRunner interface {
	StreamTurn(ctx context.Context, req models.ChatRequest, send services.Notifier) error
}

// State is where a session is in its request cycle.
type State int32

const (
	AwaitingRequest State = iota
	Processing
	Streaming
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingRequest:
		return "awaiting_request"
	case Processing:
		return "processing"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type inbound struct {
	req models.ChatRequest
	err error
}

// Controller serves a single connection. Turns never overlap; requests that
// arrive mid-turn wait for the current one to finish.
type Controller struct {
	id     string
	conn   Conn
	runner TurnRunner
	logger *zap.Logger

	state    atomic.Int32
	lastType models.NotificationType

	readErrMu sync.Mutex
	readErr   error
}

func New(conn Conn, runner TurnRunner, logger *zap.Logger) *Controller {
	id := uuid.NewString()
	return &Controller{
		id:     id,
		conn:   conn,
		runner: runner,
		logger: logger.Named("session").With(zap.String("session_id", id)),
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		c.logger.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Serve runs the session until the client goes away, a send fails or ctx
// ends. It always closes the connection and returns the cause.
func (c *Controller) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	// Unwinds as cancel, Close, Wait: closing the conn unblocks the reader.
	var wg sync.WaitGroup
	defer wg.Wait()
	defer c.conn.Close() //nolint:errcheck
	defer cancel()

	incoming := make(chan inbound)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.readLoop(ctx, cancel, incoming)
	}()

	c.logger.Debug("session started")
	for {
		c.setState(AwaitingRequest)

		var in inbound
		select {
		case <-ctx.Done():
			return c.cause(ctx)
		case in = <-incoming:
		}

		if in.err != nil {
			c.logger.Debug("malformed frame", zap.Error(in.err))
			if err := c.conn.Send(ctx, models.ErrorNotification(in.err.Error())); err != nil {
				return err
			}
			continue
		}

		if err := c.runTurn(ctx, in.req); err != nil {
			c.setState(Failed)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return c.cause(ctx)
			}
			c.logger.Info("send failed, closing session", zap.Error(err))
			return err
		}
	}
}

func (c *Controller) runTurn(ctx context.Context, req models.ChatRequest) error {
	c.setState(Processing)
	c.lastType = ""
	err := c.runner.StreamTurn(ctx, req, c.send)
	if err != nil {
		return err
	}
	if c.lastType == models.NotificationComplete {
		c.setState(Completed)
	} else {
		c.setState(Failed)
	}
	return nil
}

func (c *Controller) send(ctx context.Context, n models.Notification) error {
	if n.Type == models.NotificationChunk && c.State() == Processing {
		c.setState(Streaming)
	}
	c.lastType = n.Type
	return c.conn.Send(ctx, n)
}

// readLoop feeds incoming until a terminal read error, which cancels the
// session so an in-flight turn stops too.
func (c *Controller) readLoop(ctx context.Context, cancel context.CancelFunc, incoming chan<- inbound) {
	for {
		req, err := c.conn.ReadRequest(ctx)
		if err != nil && !errors.Is(err, ErrMalformedRequest) {
			c.readErrMu.Lock()
			c.readErr = err
			c.readErrMu.Unlock()
			cancel()
			return
		}
		select {
		case incoming <- inbound{req: req, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// cause prefers the read error that ended the session over the bare
// cancellation it triggered.
func (c *Controller) cause(ctx context.Context) error {
	c.readErrMu.Lock()
	defer c.readErrMu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ctx.Err()
}
