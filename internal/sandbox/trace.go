package sandbox

import (
	"fmt"
	"time"
)

// Kind identifies one of the closed set of sandbox capabilities.
type Kind string

const (
	KindShell      Kind = "shell"
	KindFilesystem Kind = "filesystem"
	KindCodeExec   Kind = "code_exec"
	KindDiagram    Kind = "diagram"
)

// Call is one planned capability invocation. Which fields are meaningful
// depends on Kind.
type Call struct {
	Kind Kind

	// shell
	Command string

	// filesystem
	Op      string // "write" or "read"
	Path    string
	Content string

	// code_exec
	Language string
	Code     string

	// code_exec / diagram: artifact to write under the workdir.
	// For code_exec it receives captured stdout, for diagram the rendered image.
	Output string

	// diagram
	Source string
}

// CallResult records the outcome of a single capability invocation. Failed
// calls carry Error and do not abort the task.
type CallResult struct {
	Kind       Kind          `json:"kind"`
	Detail     string        `json:"detail"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Failed reports whether the call produced an error.
func (r *CallResult) Failed() bool {
	return r.Error != ""
}

// CapabilityError describes one failed capability call.
type CapabilityError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability failed (%s): %v", e.Kind, e.Detail, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Result is the durable outcome of one task execution. OutputPath is always
// set once the session directory exists, even when Trace contains failures.
type Result struct {
	OutputPath string       `json:"output_path"`
	Trace      []CallResult `json:"trace"`
}

// FailedCalls counts trace entries that ended in error.
func (r *Result) FailedCalls() int {
	n := 0
	for i := range r.Trace {
		if r.Trace[i].Failed() {
			n++
		}
	}
	return n
}
