// Package wes adapts a downstream GA4GH WES endpoint to the engine's
// provider contract, federating runs to another WES service. The downstream
// already speaks the canonical state vocabulary, so the status table is the
// identity map over it.
package wes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/seantiz/helix/internal/model"
	"github.com/seantiz/helix/internal/provider"
)

// statusTable is identity over the canonical vocabulary; anything else a
// downstream invents maps to UNKNOWN.
var statusTable = provider.StatusTable{
	model.StateQueued:        model.StateQueued,
	model.StateInitializing:  model.StateInitializing,
	model.StateRunning:       model.StateRunning,
	model.StatePaused:        model.StatePaused,
	model.StateComplete:      model.StateComplete,
	model.StateExecutorError: model.StateExecutorError,
	model.StateSystemError:   model.StateSystemError,
	model.StateCanceling:     model.StateCanceling,
	model.StateCanceled:      model.StateCanceled,
}

// Provider is a downstream-WES-backed execution provider.
type Provider struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New constructs a WES federation provider. Endpoint is required; token is
// optional bearer auth.
func New(name string, cfg provider.Config, logger *slog.Logger) (provider.Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	return &Provider{
		name:     name,
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{},
		logger:   logger.With("provider", name),
	}, nil
}

type wesRunID struct {
	RunID string `json:"run_id"`
}

type wesTaskLog struct {
	Name      string `json:"name"`
	Cmd       string `json:"cmd"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  *int   `json:"exit_code"`
}

type wesRunLog struct {
	RunID    string          `json:"run_id"`
	State    string          `json:"state"`
	Outputs  json.RawMessage `json:"outputs"`
	TaskLogs []wesTaskLog    `json:"task_logs"`
}

// Submit posts the run to the downstream /runs endpoint as the WES-standard
// multipart form.
func (p *Provider) Submit(ctx context.Context, sub provider.Submission) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"workflow_url":          sub.Spec.WorkflowURL,
		"workflow_type":         sub.Spec.WorkflowType,
		"workflow_type_version": sub.Spec.WorkflowVersion,
	}
	if len(sub.Spec.Params) > 0 {
		fields["workflow_params"] = string(sub.Spec.Params)
	}
	if len(sub.Spec.Tags) > 0 {
		tags, err := json.Marshal(sub.Spec.Tags)
		if err != nil {
			return "", fmt.Errorf("marshal tags: %w", err)
		}
		fields["tags"] = string(tags)
	}
	for key, val := range fields {
		if err := form.WriteField(key, val); err != nil {
			return "", fmt.Errorf("write form field: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/runs", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	p.authorize(req)

	var created wesRunID
	if err := p.doJSON(req, &created); err != nil {
		return "", p.classifySubmit(err)
	}
	p.logger.Info("run submitted downstream", "run_id", sub.RunID, "downstream_run_id", created.RunID)
	return created.RunID, nil
}

// Status reads the downstream run log.
func (p *Provider) Status(ctx context.Context, handle string) (provider.RunUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/runs/"+handle, nil)
	if err != nil {
		return provider.RunUpdate{}, fmt.Errorf("build request: %w", err)
	}
	p.authorize(req)

	var log wesRunLog
	if err := p.doJSON(req, &log); err != nil {
		return provider.RunUpdate{}, p.classifyStatus(err)
	}

	upd := provider.RunUpdate{State: statusTable.Canonical(log.State)}
	if log.State == model.StateComplete && len(log.Outputs) > 0 {
		upd.Outputs = log.Outputs
	}
	for _, tl := range log.TaskLogs {
		upd.Tasks = append(upd.Tasks, model.Task{
			ID:        model.NewTaskID(),
			Name:      tl.Name,
			Command:   tl.Cmd,
			StartTime: parseTime(tl.StartTime),
			EndTime:   parseTime(tl.EndTime),
			ExitCode:  tl.ExitCode,
			Stdout:    tl.Stdout,
			Stderr:    tl.Stderr,
		})
	}
	return upd, nil
}

// Cancel posts to the downstream cancel endpoint.
func (p *Provider) Cancel(ctx context.Context, handle string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/runs/"+handle+"/cancel", nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	p.authorize(req)

	var canceled wesRunID
	if err := p.doJSON(req, &canceled); err != nil {
		return false, p.classifyStatus(err)
	}
	return true, nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func (p *Provider) doJSON(req *http.Request, out any) error {
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

func (p *Provider) classifyStatus(err error) error {
	var he *httpError
	if errors.As(err, &he) && he.status == http.StatusNotFound {
		return fmt.Errorf("%s: run not found: %w", p.name, err)
	}
	return &provider.UnavailableError{Provider: p.name, Err: err}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
