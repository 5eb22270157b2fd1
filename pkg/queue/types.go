package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a job.
//
// Transitions are strictly Pending -> Downloading -> (Completed | Failed).
type State string

const (
	StatePending     State = "pending"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is a tagged value: Progress is meaningful only for Downloading and
// Reason only for Failed.
type Status struct {
	State    State   `json:"state"`
	Progress float64 `json:"progress,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

func Pending() Status { return Status{State: StatePending} }

func Downloading(progress float64) Status {
	return Status{State: StateDownloading, Progress: clampPercent(progress)}
}

func Completed() Status { return Status{State: StateCompleted} }

func Failed(reason string) Status { return Status{State: StateFailed, Reason: reason} }

// String renders the status for tables and logs.
func (s Status) String() string {
	switch s.State {
	case StateDownloading:
		return fmt.Sprintf("downloading %.1f%%", s.Progress)
	case StateFailed:
		if s.Reason != "" {
			return "failed: " + s.Reason
		}
		return "failed"
	default:
		return string(s.State)
	}
}

// ErrInvalidSourceRef is returned for references that cannot be parsed.
var ErrInvalidSourceRef = errors.New("invalid source reference")

// SourceRef identifies what the engine should fetch.
//
// A workshop item carries the owning application id; a whole application
// only has ContentID.
type SourceRef struct {
	OwnerAppID string
	ContentID  string
}

// ParseSourceRef parses "<content>" or "<owner>:<content>".
func ParseSourceRef(raw string) (SourceRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SourceRef{}, fmt.Errorf("%w: empty", ErrInvalidSourceRef)
	}

	owner, content, found := strings.Cut(raw, ":")
	if !found {
		return SourceRef{ContentID: raw}, nil
	}

	owner = strings.TrimSpace(owner)
	content = strings.TrimSpace(content)
	if owner == "" || content == "" {
		return SourceRef{}, fmt.Errorf("%w: %q", ErrInvalidSourceRef, raw)
	}
	return SourceRef{OwnerAppID: owner, ContentID: content}, nil
}

// IsWorkshop reports whether the reference names a workshop item.
func (r SourceRef) IsWorkshop() bool {
	return r.OwnerAppID != ""
}

func (r SourceRef) String() string {
	if r.IsWorkshop() {
		return r.OwnerAppID + ":" + r.ContentID
	}
	return r.ContentID
}

// MarshalText encodes the reference in its string form.
func (r SourceRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes the string form produced by MarshalText.
func (r *SourceRef) UnmarshalText(b []byte) error {
	parsed, err := ParseSourceRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Job is one requested acquisition.
//
// Job values handed out by Store are copies; mutating them has no effect on
// the queue.
type Job struct {
	ID          string    `json:"id"`
	SourceRef   SourceRef `json:"source_ref"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	InstallPath string    `json:"install_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Outcome is the terminal result written by Finalize.
//
// Implementations are Completed and Failed; consumers type-switch on them.
type Outcome interface {
	isOutcome()
}

// CompletedOutcome carries the final install directory.
type CompletedOutcome struct {
	Path string
}

// FailedOutcome carries a human-readable reason.
type FailedOutcome struct {
	Reason string
}

func (CompletedOutcome) isOutcome() {}
func (FailedOutcome) isOutcome()    {}

// Complete builds a CompletedOutcome.
func Complete(path string) Outcome { return CompletedOutcome{Path: path} }

// Fail builds a FailedOutcome.
func Fail(reason string) Outcome { return FailedOutcome{Reason: reason} }

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
