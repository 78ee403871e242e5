package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
)

// ErrNotReady is returned by Upstream when no completer has been installed.
var ErrNotReady = errors.New("upstream client not initialized")

// Upstream is the process-wide handle to the configured Completer. It is set
// once at startup and read lock-free by every request afterwards.
type Upstream struct {
	c atomic.Pointer[completerBox]
}

type completerBox struct{ Completer }

// NewUpstream returns an empty handle; Ready reports false until Set is called.
func NewUpstream() *Upstream {
	return &Upstream{}
}

// Set installs the completer. Later calls replace it.
func (u *Upstream) Set(c Completer) {
	u.c.Store(&completerBox{c})
}

func (u *Upstream) Ready() bool {
	return u.c.Load() != nil
}

// Stream delegates to the installed completer, or fails with ErrNotReady.
func (u *Upstream) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	b := u.c.Load()
	if b == nil {
		return nil, ErrNotReady
	}
	return b.Stream(ctx, req)
}

// Collect drains a completion into one string. The first stream error aborts
// the call and the partial text is discarded.
func Collect(ctx context.Context, c Completer, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := c.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for ev := range events {
		if ev.Err != nil {
			return "", ev.Err
		}
		sb.WriteString(ev.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
