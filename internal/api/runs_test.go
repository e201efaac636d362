package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/helix/internal/model"
)

func TestCreateRunValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"provider":"mockA","workflow_url":"https://example.com/wf.cwl","workflow_type":"CWL","workflow_params":{"sample":"NA12878"}}`
	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}

	var created createRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(created.RunID) != 26 {
		t.Errorf("run id length = %d, want 26", len(created.RunID))
	}
	if created.State != model.StateQueued {
		t.Errorf("state = %q, want QUEUED", created.State)
	}
	if srv.notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1 nudge after create", srv.notifier.count())
	}
}

func TestCreateRunValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cases := map[string]string{
		"invalid JSON":     `not json`,
		"missing URL":      `{"provider":"mockA"}`,
		"unknown provider": `{"provider":"nope","workflow_url":"wf"}`,
		"bad params":       `{"provider":"mockA","workflow_url":"wf","workflow_params":"{"}`,
		"array params":     `{"provider":"mockA","workflow_url":"wf","workflow_params":[1,2]}`,
		"scalar params":    `{"provider":"mockA","workflow_url":"wf","workflow_params":42}`,
	}
	for name, body := range cases {
		resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("%s: POST /v1/runs: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}

	// Nothing was persisted for rejected submissions.
	runs, _, err := srv.store.ListRuns(context.Background(), listAll(), "", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("persisted runs after rejections = %d, want 0", len(runs))
	}
}

func TestGetRunDetail(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := seedRun(t, srv.store, model.StateRunning)

	resp, err := http.Get(ts.URL + "/v1/runs/" + id)
	if err != nil {
		t.Fatalf("GET /v1/runs/{id}: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var detail struct {
		RunID string       `json:"run_id"`
		State string       `json:"state"`
		Tasks []model.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if detail.RunID != id || detail.State != model.StateRunning {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Tasks == nil {
		t.Error("tasks omitted, want empty array")
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{
		"/v1/runs/" + model.NewID(),
		"/v1/runs/" + model.NewID() + "/status",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestGetRunStatus(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := seedRun(t, srv.store, model.StateComplete)

	resp, err := http.Get(ts.URL + "/v1/runs/" + id + "/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()

	var status runStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.State != model.StateComplete {
		t.Errorf("state = %q, want COMPLETE", status.State)
	}
}

func TestListRunsPaginates(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := 0; i < 5; i++ {
		seedRun(t, srv.store, model.StateRunning)
	}

	seen := map[string]bool{}
	token := ""
	for page := 0; page < 4; page++ {
		url := fmt.Sprintf("%s/v1/runs?page_size=2", ts.URL)
		if token != "" {
			url += "&page_token=" + token
		}
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("GET /v1/runs: %v", err)
		}
		var list listRunsResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resp.Body.Close()

		for _, run := range list.Runs {
			if seen[run.ID] {
				t.Errorf("run %s returned twice", run.ID)
			}
			seen[run.ID] = true
		}
		token = list.NextPageToken
		if token == "" {
			break
		}
	}
	if len(seen) != 5 {
		t.Errorf("runs seen across pages = %d, want 5", len(seen))
	}
}

func TestListRunsInvalidToken(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs?page_token=garbage")
	if err != nil {
		t.Fatalf("GET /v1/runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListRunsFiltersByState(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	seedRun(t, srv.store, model.StateRunning)
	seedRun(t, srv.store, model.StateComplete)

	resp, err := http.Get(ts.URL + "/v1/runs?state=COMPLETE")
	if err != nil {
		t.Fatalf("GET /v1/runs: %v", err)
	}
	defer resp.Body.Close()

	var list listRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].State != model.StateComplete {
		t.Errorf("filtered runs = %+v, want one COMPLETE", list.Runs)
	}
}

func TestCancelRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := seedRun(t, srv.store, model.StateRunning)

	resp, err := http.Post(ts.URL+"/v1/runs/"+id+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status runStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.State != model.StateCanceling {
		t.Errorf("state = %q, want CANCELING", status.State)
	}
}

func TestCancelTerminalRunIsNoOp(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := seedRun(t, srv.store, model.StateComplete)

	resp, err := http.Post(ts.URL+"/v1/runs/"+id+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status runStatusResponse
	json.NewDecoder(resp.Body).Decode(&status)
	if status.State != model.StateComplete {
		t.Errorf("state = %q, want COMPLETE unchanged", status.State)
	}
}
