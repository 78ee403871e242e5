package services

import (
	"claudechat-backend/internal/llm"
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/store"
	"claudechat-backend/internal/store/sqlite"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeCompleter replays fragments, optionally failing after failAfter of them.
type fakeCompleter struct {
	fragments []string
	failAfter int   // index at which err is emitted; -1 never
	err       error // stream error
	startErr  error // returned by Stream itself
	hang      bool  // after the fragments, wait for cancellation instead of closing

	mu     sync.Mutex
	reqs   []llm.CompletionRequest
	exited chan struct{} // closed when the latest producer returns
}

func newFake(fragments ...string) *fakeCompleter {
	return &fakeCompleter{fragments: fragments, failAfter: -1}
}

func (f *fakeCompleter) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	if f.startErr != nil {
		f.mu.Lock()
		f.reqs = append(f.reqs, req)
		f.mu.Unlock()
		return nil, f.startErr
	}
	exited := make(chan struct{})
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.exited = exited
	f.mu.Unlock()

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(exited)
		defer close(ch)
		for i, frag := range f.fragments {
			if i == f.failAfter {
				select {
				case ch <- llm.StreamEvent{Err: f.err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- llm.StreamEvent{Text: frag}:
			case <-ctx.Done():
				return
			}
		}
		if f.hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeCompleter) producerExited() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeCompleter) requests() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.reqs...)
}

// failingStore rejects appends for one role.
type failingStore struct {
	store.Store
	failRole models.Role
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) AppendMessage(ctx context.Context, arg store.AppendMessageParams) (*models.Message, error) {
	if arg.Role == s.failRole {
		return nil, errDiskFull
	}
	return s.Store.AppendMessage(ctx, arg)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.OpenDB(ctx, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v; want nil", err)
	}
	s := sqlite.NewSQLiteStore(db, zap.NewNop())
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v; want nil", err)
	}
	return s
}

func newTestRegistry(t *testing.T) *llm.Registry {
	t.Helper()
	specs := llm.BuiltinModels()
	specs["tiny-model"] = llm.ModelSpec{Name: "Tiny", MaxTokens: 512, SupportsThinking: false, ContextWindow: 4096}
	r, err := llm.NewRegistry(llm.ModelClaudeSonnet4, specs, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v; want nil", err)
	}
	return r
}

// recorder collects notifications; failOn makes the n-th send (1-based) fail.
type recorder struct {
	mu     sync.Mutex
	got    []models.Notification
	failOn int
}

var errConnGone = errors.New("connection gone")

func (r *recorder) send(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn > 0 && len(r.got)+1 == r.failOn {
		return errConnGone
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) notifications() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.got...)
}

func (r *recorder) types() []models.NotificationType {
	var out []models.NotificationType
	for _, n := range r.notifications() {
		out = append(out, n.Type)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
