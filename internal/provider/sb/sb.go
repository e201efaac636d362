// Package sb adapts the SevenBridges/Velsera platform API to the engine's
// provider contract. Runs map to SevenBridges tasks: submission creates a
// draft task and immediately runs it, status reads the task plus its
// execution details, cancel aborts the task.
package sb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/seantiz/helix/internal/model"
	"github.com/seantiz/helix/internal/provider"
)

const defaultEndpoint = "https://api.sbgenomics.com/v2"

// statusTable maps SevenBridges task statuses to canonical states.
var statusTable = provider.StatusTable{
	"DRAFT":     model.StateInitializing,
	"CREATING":  model.StateInitializing,
	"QUEUED":    model.StateQueued,
	"RUNNING":   model.StateRunning,
	"COMPLETED": model.StateComplete,
	"FAILED":    model.StateExecutorError,
	"ABORTED":   model.StateCanceled,
}

// Provider is a SevenBridges-backed execution provider.
type Provider struct {
	name     string
	endpoint string
	token    string
	project  string
	client   *http.Client
	logger   *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New constructs a SevenBridges provider from its configuration. Token and
// project are required; a missing value fails registry construction at boot.
func New(name string, cfg provider.Config, logger *slog.Logger) (provider.Provider, error) {
	if cfg.Token == "" {
		return nil, errors.New("token is required")
	}
	if cfg.Project == "" {
		return nil, errors.New("project is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Provider{
		name:     name,
		endpoint: endpoint,
		token:    cfg.Token,
		project:  cfg.Project,
		client:   &http.Client{},
		logger:   logger.With("provider", name),
	}, nil
}

type sbTask struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Outputs json.RawMessage `json:"outputs"`
}

type sbJob struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	CommandLine string     `json:"command_line"`
	Logs        struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"logs"`
	ExitCode *int `json:"exit_code"`
}

type sbExecutionDetails struct {
	Jobs []sbJob `json:"jobs"`
}

// Submit creates a task for the run's workflow app and starts it. The
// workflow URL in the spec is the SevenBridges app id.
func (p *Provider) Submit(ctx context.Context, sub provider.Submission) (string, error) {
	body := map[string]any{
		"name":        "WES-" + sub.RunID,
		"project":     p.project,
		"app":         sub.Spec.WorkflowURL,
		"description": "Workflow run " + sub.RunID,
	}
	if len(sub.Spec.Params) > 0 {
		body["inputs"] = json.RawMessage(sub.Spec.Params)
	}

	var task sbTask
	if err := p.do(ctx, http.MethodPost, "/tasks", body, &task); err != nil {
		return "", p.classifySubmit(err)
	}

	if err := p.do(ctx, http.MethodPost, "/tasks/"+task.ID+"/actions/run", nil, &task); err != nil {
		return "", p.classifySubmit(err)
	}

	p.logger.Info("task submitted", "run_id", sub.RunID, "task_id", task.ID)
	return task.ID, nil
}

// Status reads the task and, when available, its per-job execution details.
// Missing execution details degrade to an empty task list rather than an
// error, matching how little the API guarantees about them.
func (p *Provider) Status(ctx context.Context, handle string) (provider.RunUpdate, error) {
	var task sbTask
	if err := p.do(ctx, http.MethodGet, "/tasks/"+handle, nil, &task); err != nil {
		return provider.RunUpdate{}, p.classifyStatus(err)
	}

	upd := provider.RunUpdate{State: statusTable.Canonical(task.Status)}
	if task.Status == "COMPLETED" && len(task.Outputs) > 0 {
		upd.Outputs = task.Outputs
	}

	var details sbExecutionDetails
	if err := p.do(ctx, http.MethodGet, "/tasks/"+handle+"/execution_details", nil, &details); err != nil {
		p.logger.Warn("execution details unavailable", "task_id", handle, "error", err)
		return upd, nil
	}
	for _, job := range details.Jobs {
		upd.Tasks = append(upd.Tasks, model.Task{
			ID:        model.NewTaskID(),
			Name:      job.Name,
			Command:   job.CommandLine,
			StartTime: job.StartTime,
			EndTime:   job.EndTime,
			ExitCode:  job.ExitCode,
			Stdout:    job.Logs.Stdout,
			Stderr:    job.Logs.Stderr,
		})
	}
	return upd, nil
}

// Cancel aborts the task. Aborting a task that already finished is reported
// as not accepted, not as an error.
func (p *Provider) Cancel(ctx context.Context, handle string) (bool, error) {
	var task sbTask
	if err := p.do(ctx, http.MethodGet, "/tasks/"+handle, nil, &task); err != nil {
		return false, p.classifyStatus(err)
	}
	if task.Status != "RUNNING" && task.Status != "QUEUED" && task.Status != "DRAFT" && task.Status != "CREATING" {
		p.logger.Warn("task not abortable", "task_id", handle, "status", task.Status)
		return false, nil
	}
	if err := p.do(ctx, http.MethodPost, "/tasks/"+handle+"/actions/abort", nil, &task); err != nil {
		return false, p.classifyStatus(err)
	}
	return true, nil
}

// httpError carries the response status for classification.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-SBG-Auth-Token", p.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode, body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// classifySubmit sorts a submission failure into the permanent/transient
// taxonomy: client rejections (except rate limits) are permanent, everything
// else is retried.
func (p *Provider) classifySubmit(err error) error {
	var he *httpError
	if errors.As(err, &he) {
		if he.status == http.StatusTooManyRequests {
			return &provider.UnavailableError{Provider: p.name, Err: err}
		}
		if he.status >= 400 && he.status < 500 {
			return &provider.SubmissionError{Provider: p.name, Err: err}
		}
	}
	return &provider.UnavailableError{Provider: p.name, Err: err}
}

// classifyStatus treats an unknown handle as permanent and everything else
// as transient.
func (p *Provider) classifyStatus(err error) error {
	var he *httpError
	if errors.As(err, &he) && he.status == http.StatusNotFound {
		return fmt.Errorf("%s: task not found: %w", p.name, err)
	}
	return &provider.UnavailableError{Provider: p.name, Err: err}
}
