package provider

import (
	"context"
	"encoding/json"

	"github.com/seantiz/helix/internal/model"
)

// Submission is the run intent handed to an adapter. The spec is the
// caller-supplied document, passed through untouched.
type Submission struct {
	RunID string
	Spec  model.SubmissionSpec
}

// RunUpdate is one provider-reported snapshot of an external run: the
// canonical state the adapter mapped the native status to, the outputs (only
// populated for a completed run), and the full task list.
type RunUpdate struct {
	State   string
	Outputs json.RawMessage
	Tasks   []model.Task
}

// Provider is implemented once per execution backend. Adapters translate
// generic run intent into backend-specific calls and the backend's status
// vocabulary into the canonical state enum.
type Provider interface {
	// Submit starts the run on the backend and returns its external handle.
	// Rejections of the spec itself surface as *SubmissionError.
	Submit(ctx context.Context, sub Submission) (string, error)

	// Status fetches the backend's view of the run. Transient network or
	// auth failures surface as *UnavailableError; an unknown handle is a
	// permanent error, never transient.
	Status(ctx context.Context, handle string) (RunUpdate, error)

	// Cancel asks the backend to stop the run. It reports whether the
	// backend accepted the request; the canonical CANCELED state is
	// confirmed by a later Status call, not assumed here.
	Cancel(ctx context.Context, handle string) (bool, error)
}

// Config holds the connection settings for one configured adapter instance,
// loaded from the providers file. Fields are a union across adapter types;
// each adapter validates the ones it needs.
type Config struct {
	Type      string `yaml:"type"`
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	Project   string `yaml:"project"`
	Region    string `yaml:"region"`
	RoleARN   string `yaml:"role_arn"`
	OutputURI string `yaml:"output_uri"`
}

// StatusTable maps a backend's native status vocabulary to canonical states.
// Each adapter declares its table statically next to its client code.
type StatusTable map[string]string

// Canonical translates a native status. Unmapped statuses become UNKNOWN,
// which the controller treats as "no new information" rather than a
// transition.
func (t StatusTable) Canonical(native string) string {
	if state, ok := t[native]; ok {
		return state
	}
	return model.StateUnknown
}
