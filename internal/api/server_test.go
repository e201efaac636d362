package api

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/helix/internal/engine"
	"github.com/seantiz/helix/internal/model"
	"github.com/seantiz/helix/internal/provider"
	"github.com/seantiz/helix/internal/store"
)

// stubProvider keeps runs parked until a test advances them.
type stubProvider struct{}

func (stubProvider) Submit(context.Context, provider.Submission) (string, error) {
	return "stub-handle", nil
}

func (stubProvider) Status(context.Context, string) (provider.RunUpdate, error) {
	return provider.RunUpdate{State: model.StateRunning}, nil
}

func (stubProvider) Cancel(context.Context, string) (bool, error) {
	return true, nil
}

type countingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *countingNotifier) Notify(runID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, runID)
	return true
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids)
}

type testServer struct {
	*Server
	store    *store.SQLiteStore
	notifier *countingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := provider.NewRegistry()
	reg.Register("mockA", stubProvider{})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctrl := engine.NewController(s, reg, logger, engine.Options{})
	notifier := &countingNotifier{}

	return &testServer{
		Server:   NewServer(":0", ctrl, notifier, reg, s, logger),
		store:    s,
		notifier: notifier,
	}
}

func listAll() store.ListFilter {
	return store.ListFilter{}
}

func seedRun(t *testing.T, s store.Store, state string) string {
	t.Helper()
	run := &model.Run{
		ID:           model.NewID(),
		State:        state,
		ProviderType: "mockA",
		Spec:         model.SubmissionSpec{WorkflowURL: "wf-123", WorkflowType: "CWL"},
		CreatedAt:    time.Now().UTC(),
	}
	if state != model.StateQueued {
		run.ExternalHandle = "stub-handle"
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run.ID
}
