package omics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/omics"
	omicstypes "github.com/aws/aws-sdk-go-v2/service/omics/types"
	smithy "github.com/aws/smithy-go"

	"github.com/seantiz/helix/internal/model"
	"github.com/seantiz/helix/internal/provider"
)

// fakeClient is a configurable in-memory HealthOmics API.
type fakeClient struct {
	startErr    error
	startID     string
	startIn     *omics.StartRunInput
	getErr      error
	status      omicstypes.RunStatus
	outputURI   string
	taskPages   [][]omicstypes.TaskListItem
	cancelErr   error
	cancelCalls int
}

func (f *fakeClient) StartRun(_ context.Context, in *omics.StartRunInput, _ ...func(*omics.Options)) (*omics.StartRunOutput, error) {
	f.startIn = in
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &omics.StartRunOutput{Id: aws.String(f.startID)}, nil
}

func (f *fakeClient) GetRun(_ context.Context, _ *omics.GetRunInput, _ ...func(*omics.Options)) (*omics.GetRunOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := &omics.GetRunOutput{Status: f.status}
	if f.outputURI != "" {
		out.OutputUri = aws.String(f.outputURI)
	}
	return out, nil
}

func (f *fakeClient) ListRunTasks(_ context.Context, in *omics.ListRunTasksInput, _ ...func(*omics.Options)) (*omics.ListRunTasksOutput, error) {
	page := 0
	if in.StartingToken != nil {
		page = 1
	}
	if page >= len(f.taskPages) {
		return &omics.ListRunTasksOutput{}, nil
	}
	out := &omics.ListRunTasksOutput{Items: f.taskPages[page]}
	if page+1 < len(f.taskPages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeClient) CancelRun(_ context.Context, _ *omics.CancelRunInput, _ ...func(*omics.Options)) (*omics.CancelRunOutput, error) {
	f.cancelCalls++
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &omics.CancelRunOutput{}, nil
}

func newTestProvider(client api) *Provider {
	return &Provider{
		name:   "omics-test",
		client: client,
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func TestSubmitReturnsHandle(t *testing.T) {
	fc := &fakeClient{startID: "9876543"}
	p := newTestProvider(fc)
	handle, err := p.Submit(context.Background(), provider.Submission{
		RunID: "r1",
		Spec: model.SubmissionSpec{
			WorkflowURL: "1234567",
			Params:      json.RawMessage(`{"sample":"NA12878"}`),
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle != "9876543" {
		t.Errorf("handle = %q, want 9876543", handle)
	}
	if fc.startIn == nil || fc.startIn.Parameters == nil {
		t.Error("workflow params not passed through to StartRun")
	}
}

func TestSubmitMalformedParamsIsPermanent(t *testing.T) {
	p := newTestProvider(&fakeClient{startID: "x"})
	_, err := p.Submit(context.Background(), provider.Submission{
		RunID: "r1",
		Spec: model.SubmissionSpec{
			WorkflowURL: "1234567",
			Params:      json.RawMessage(`[1,2]`),
		},
	})
	var se *provider.SubmissionError
	if !errors.As(err, &se) {
		t.Errorf("Submit error = %v, want *SubmissionError", err)
	}
}

func TestSubmitRejectsURLWorkflowID(t *testing.T) {
	p := newTestProvider(&fakeClient{startID: "x"})
	_, err := p.Submit(context.Background(), provider.Submission{
		RunID: "r1",
		Spec:  model.SubmissionSpec{WorkflowURL: "https://example.com/wf.cwl"},
	})
	var se *provider.SubmissionError
	if !errors.As(err, &se) {
		t.Errorf("Submit error = %v, want *SubmissionError", err)
	}
}

func TestSubmitThrottlingIsTransient(t *testing.T) {
	p := newTestProvider(&fakeClient{
		startErr: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
	})
	_, err := p.Submit(context.Background(), provider.Submission{
		RunID: "r1",
		Spec:  model.SubmissionSpec{WorkflowURL: "1234567"},
	})
	var ue *provider.UnavailableError
	if !errors.As(err, &ue) {
		t.Errorf("Submit error = %v, want *UnavailableError", err)
	}
}

func TestSubmitValidationIsPermanent(t *testing.T) {
	p := newTestProvider(&fakeClient{
		startErr: &smithy.GenericAPIError{Code: "ValidationException", Message: "bad workflow"},
	})
	_, err := p.Submit(context.Background(), provider.Submission{
		RunID: "r1",
		Spec:  model.SubmissionSpec{WorkflowURL: "1234567"},
	})
	var se *provider.SubmissionError
	if !errors.As(err, &se) {
		t.Errorf("Submit error = %v, want *SubmissionError", err)
	}
}

func TestStatusMapsAndCollectsTasks(t *testing.T) {
	start := time.Now().UTC().Add(-time.Minute)
	stop := time.Now().UTC()
	p := newTestProvider(&fakeClient{
		status:    omicstypes.RunStatusCompleted,
		outputURI: "s3://bucket/out/r1",
		taskPages: [][]omicstypes.TaskListItem{
			{{TaskId: aws.String("t1"), Name: aws.String("align"), StartTime: &start, StopTime: &stop}},
			{{TaskId: aws.String("t2"), Name: aws.String("sort")}},
		},
	})

	upd, err := p.Status(context.Background(), "9876543")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if upd.State != model.StateComplete {
		t.Errorf("state = %q, want COMPLETE", upd.State)
	}
	if len(upd.Outputs) == 0 {
		t.Error("outputs empty for completed run")
	}
	if len(upd.Tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2 across pages", len(upd.Tasks))
	}
	if upd.Tasks[0].Name != "align" || upd.Tasks[1].Name != "sort" {
		t.Errorf("tasks = %+v", upd.Tasks)
	}
}

func TestStatusUnmappedIsUnknown(t *testing.T) {
	p := newTestProvider(&fakeClient{status: omicstypes.RunStatus("BRAND_NEW")})
	upd, err := p.Status(context.Background(), "9876543")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if upd.State != model.StateUnknown {
		t.Errorf("state = %q, want UNKNOWN", upd.State)
	}
}

func TestCancelConflictNotAccepted(t *testing.T) {
	fc := &fakeClient{
		cancelErr: &smithy.GenericAPIError{Code: "ConflictException", Message: "already done"},
	}
	p := newTestProvider(fc)

	ok, err := p.Cancel(context.Background(), "9876543")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("Cancel on finished run reported accepted")
	}
	if fc.cancelCalls != 1 {
		t.Errorf("cancel calls = %d, want 1", fc.cancelCalls)
	}
}
