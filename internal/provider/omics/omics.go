// Package omics adapts AWS HealthOmics to the engine's provider contract.
// The workflow URL in a submission is a HealthOmics workflow id; runs map to
// HealthOmics runs and task lists come from ListRunTasks.
package omics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/omics"
	"github.com/aws/aws-sdk-go-v2/service/omics/document"
	omicstypes "github.com/aws/aws-sdk-go-v2/service/omics/types"
	smithy "github.com/aws/smithy-go"

	"github.com/seantiz/helix/internal/model"
	"github.com/seantiz/helix/internal/provider"
)

const listTasksPageSize = 100

// statusTable maps HealthOmics run statuses to canonical states.
var statusTable = provider.StatusTable{
	"PENDING":   model.StateQueued,
	"STARTING":  model.StateInitializing,
	"RUNNING":   model.StateRunning,
	"STOPPING":  model.StateCanceling,
	"COMPLETED": model.StateComplete,
	"FAILED":    model.StateExecutorError,
	"CANCELLED": model.StateCanceled,
}

// transientCodes are API error codes retried on a later cycle. Everything
// else the service rejects is permanent.
var transientCodes = map[string]bool{
	"ThrottlingException":           true,
	"InternalServerException":       true,
	"ServiceQuotaExceededException": true,
	"RequestTimeout":                true,
}

// api is the subset of the HealthOmics client the adapter uses.
type api interface {
	StartRun(ctx context.Context, in *omics.StartRunInput, opts ...func(*omics.Options)) (*omics.StartRunOutput, error)
	GetRun(ctx context.Context, in *omics.GetRunInput, opts ...func(*omics.Options)) (*omics.GetRunOutput, error)
	ListRunTasks(ctx context.Context, in *omics.ListRunTasksInput, opts ...func(*omics.Options)) (*omics.ListRunTasksOutput, error)
	CancelRun(ctx context.Context, in *omics.CancelRunInput, opts ...func(*omics.Options)) (*omics.CancelRunOutput, error)
}

// Provider is an AWS HealthOmics-backed execution provider.
type Provider struct {
	name      string
	client    api
	roleARN   string
	outputURI string
	logger    *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New constructs a HealthOmics provider. Credentials come from the standard
// AWS chain; region, role ARN and output URI come from the provider config.
func New(name string, cfg provider.Config, logger *slog.Logger) (provider.Provider, error) {
	if cfg.Region == "" {
		return nil, errors.New("region is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Provider{
		name:      name,
		client:    omics.NewFromConfig(awsCfg),
		roleARN:   cfg.RoleARN,
		outputURI: cfg.OutputURI,
		logger:    logger.With("provider", name),
	}, nil
}

// Submit starts a HealthOmics run for the spec's workflow id. The run id
// doubles as the service-side idempotency token, so a duplicate submission
// attempt cannot start a second run.
func (p *Provider) Submit(ctx context.Context, sub provider.Submission) (string, error) {
	workflowID := sub.Spec.WorkflowURL
	if strings.HasPrefix(workflowID, "http://") || strings.HasPrefix(workflowID, "https://") || strings.HasPrefix(workflowID, "/") {
		return "", &provider.SubmissionError{
			Provider: p.name,
			Err:      fmt.Errorf("workflow_url %q must be a HealthOmics workflow id", workflowID),
		}
	}

	in := &omics.StartRunInput{
		WorkflowId: aws.String(workflowID),
		Name:       aws.String("WES-" + sub.RunID),
		RequestId:  aws.String(sub.RunID),
		Tags:       map[string]string{"WES-RunId": sub.RunID},
	}
	if p.roleARN != "" {
		in.RoleArn = aws.String(p.roleARN)
	}
	if p.outputURI != "" {
		in.OutputUri = aws.String(p.outputURI + "/" + sub.RunID)
	}
	if len(sub.Spec.Params) > 0 {
		var params map[string]any
		if err := json.Unmarshal(sub.Spec.Params, &params); err != nil {
			return "", &provider.SubmissionError{Provider: p.name, Err: fmt.Errorf("workflow params: %w", err)}
		}
		in.Parameters = document.NewLazyDocument(params)
	}

	out, err := p.client.StartRun(ctx, in)
	if err != nil {
		return "", p.classify(err, true)
	}

	handle := aws.ToString(out.Id)
	p.logger.Info("run submitted", "run_id", sub.RunID, "omics_run_id", handle)
	return handle, nil
}

// Status reads the run and its task list. Task listing failures degrade to
// an empty task list; the run state itself is the authoritative part.
func (p *Provider) Status(ctx context.Context, handle string) (provider.RunUpdate, error) {
	out, err := p.client.GetRun(ctx, &omics.GetRunInput{Id: aws.String(handle)})
	if err != nil {
		return provider.RunUpdate{}, p.classify(err, false)
	}

	native := string(out.Status)
	upd := provider.RunUpdate{State: statusTable.Canonical(native)}
	if out.Status == omicstypes.RunStatusCompleted && out.OutputUri != nil {
		raw, err := json.Marshal(map[string]string{"output_uri": aws.ToString(out.OutputUri)})
		if err == nil {
			upd.Outputs = raw
		}
	}

	tasks, err := p.listTasks(ctx, handle)
	if err != nil {
		p.logger.Warn("list run tasks failed", "omics_run_id", handle, "error", err)
		return upd, nil
	}
	upd.Tasks = tasks
	return upd, nil
}

func (p *Provider) listTasks(ctx context.Context, handle string) ([]model.Task, error) {
	var tasks []model.Task
	var token *string
	for {
		out, err := p.client.ListRunTasks(ctx, &omics.ListRunTasksInput{
			Id:            aws.String(handle),
			MaxResults:    aws.Int32(listTasksPageSize),
			StartingToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			id := aws.ToString(item.TaskId)
			if id == "" {
				id = model.NewTaskID()
			}
			tasks = append(tasks, model.Task{
				ID:        id,
				Name:      aws.ToString(item.Name),
				StartTime: item.StartTime,
				EndTime:   item.StopTime,
			})
		}
		if out.NextToken == nil {
			return tasks, nil
		}
		token = out.NextToken
	}
}

// Cancel requests cancellation of the run.
func (p *Provider) Cancel(ctx context.Context, handle string) (bool, error) {
	if _, err := p.client.CancelRun(ctx, &omics.CancelRunInput{Id: aws.String(handle)}); err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "ConflictException" {
			// Already finished or already stopping.
			p.logger.Warn("run not cancelable", "omics_run_id", handle, "error", err)
			return false, nil
		}
		return false, p.classify(err, false)
	}
	return true, nil
}

// classify sorts a service error into the permanent/transient taxonomy.
// submitPath widens the permanent set: a validation rejection of the spec
// must not be retried.
func (p *Provider) classify(err error, submitPath bool) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		if transientCodes[code] {
			return &provider.UnavailableError{Provider: p.name, Err: err}
		}
		if submitPath {
			return &provider.SubmissionError{Provider: p.name, Err: err}
		}
		if code == "ResourceNotFoundException" {
			return fmt.Errorf("%s: run not found: %w", p.name, err)
		}
		return fmt.Errorf("%s: %w", p.name, err)
	}
	// Anything that never reached the service (DNS, timeout, connection
	// reset) is transient.
	return &provider.UnavailableError{Provider: p.name, Err: err}
}
