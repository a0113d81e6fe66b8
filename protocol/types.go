package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the operation a request performs.
type Kind string

const (
	KindUpload    Kind = "upload"
	KindDownload  Kind = "download"
	KindTransform Kind = "transform"
	KindExec      Kind = "exec"
	KindExplore   Kind = "explore"
	KindImport    Kind = "import"
	KindExport    Kind = "export"
	KindClear     Kind = "clear"
	KindStop      Kind = "stop"
	KindStatus    Kind = "status"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{
	KindUpload, KindDownload, KindTransform, KindExec, KindExplore,
	KindImport, KindExport, KindClear, KindStop, KindStatus,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind converts a wire name to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrProtocol, s)
	}
	return k, nil
}

// State is the lifecycle state of a request.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// Payload carries operation input. Only the fields relevant to the
// request's kind are set.
type Payload struct {
	Facts     string   `json:"facts,omitempty"`
	Patterns  []string `json:"patterns,omitempty"`
	Templates []string `json:"templates,omitempty"`
	Thread    string   `json:"thread,omitempty"`
	URI       string   `json:"uri,omitempty"`
	Token     string   `json:"token,omitempty"`
}

// ExploreEntry is one child node returned by an explore request.
type ExploreEntry struct {
	Token  string   `json:"token"`
	Values []string `json:"values"`
}

// Result is the terminal output of a completed request.
type Result struct {
	Data    string         `json:"data,omitempty"`
	Entries []ExploreEntry `json:"entries,omitempty"`
}

// Facts splits Data into its non-empty lines.
func (r Result) Facts() []string {
	var facts []string
	for _, line := range strings.Split(r.Data, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			facts = append(facts, line)
		}
	}
	return facts
}

// Clone returns a deep copy so callers cannot alias stored results.
func (r Result) Clone() Result {
	out := Result{Data: r.Data}
	if r.Entries != nil {
		out.Entries = make([]ExploreEntry, len(r.Entries))
		for i, e := range r.Entries {
			out.Entries[i] = ExploreEntry{Token: e.Token, Values: append([]string(nil), e.Values...)}
		}
	}
	return out
}

// Progress reports multi-step work such as an execution thread.
type Progress struct {
	Step    int    `json:"step"`
	Total   int    `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status is a single observation of a request.
type Status struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind,omitempty"`
	State     State      `json:"state"`
	Result    *Result    `json:"result,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Progress  *Progress  `json:"progress,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// Terminal reports whether the observed state is final.
func (s Status) Terminal() bool { return s.State.Terminal() }

// Event is one message on a request's status stream.
type Event struct {
	Status
	Seq uint64 `json:"seq,omitempty"`
}

// Envelope is the body of a submitted operation.
type Envelope struct {
	ID        string   `json:"id"`
	Namespace []string `json:"namespace"`
	Payload   Payload  `json:"payload"`
}
