package engine

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeNotifier) Notify(runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, runID)
	return true
}

func newTestListener(n Notifier) *httptest.Server {
	l := NewListener(n, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	return httptest.NewServer(l.Handler())
}

func TestNotifyEndpointAccepts(t *testing.T) {
	fn := &fakeNotifier{}
	srv := newTestListener(fn)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/notify", "application/json", strings.NewReader(`{"run_id":"r1"}`))
	if err != nil {
		t.Fatalf("POST /notify: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	fn.mu.Lock()
	defer fn.mu.Unlock()
	if len(fn.ids) != 1 || fn.ids[0] != "r1" {
		t.Errorf("notified ids = %v, want [r1]", fn.ids)
	}
}

func TestNotifyEndpointRejectsBadPayload(t *testing.T) {
	fn := &fakeNotifier{}
	srv := newTestListener(fn)
	defer srv.Close()

	for _, body := range []string{`{}`, `not json`} {
		resp, err := http.Post(srv.URL+"/notify", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST /notify: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
	fn.mu.Lock()
	defer fn.mu.Unlock()
	if len(fn.ids) != 0 {
		t.Errorf("notified ids = %v, want none", fn.ids)
	}
}
