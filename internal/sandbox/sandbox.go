package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"anvil/internal/contextstore"
	"anvil/internal/display"
)

// Agent executes tasks inside per-job sandboxes. One Agent is shared across
// all workers; each Run call gets its own session bound to a private workdir,
// so concurrent jobs never see each other's filesystem state.
type Agent struct {
	store       *contextstore.Store
	display     *display.Lease
	callTimeout time.Duration
	allowed     map[string]bool

	dispatch map[Kind]func(context.Context, *session, Call) CallResult
}

// Commands the shell capability will accept as the first token.
var defaultAllowedCommands = []string{
	"ls", "cat", "echo", "mkdir", "touch", "rm", "cp", "mv",
	"npm", "npx", "node", "python", "python3", "pip", "sleep", "true", "false", "exit",
}

// NewAgent creates the execution agent. store and lease must be non-nil.
func NewAgent(store *contextstore.Store, lease *display.Lease, callTimeout time.Duration) *Agent {
	a := &Agent{
		store:       store,
		display:     lease,
		callTimeout: callTimeout,
		allowed:     make(map[string]bool, len(defaultAllowedCommands)),
	}
	for _, c := range defaultAllowedCommands {
		a.allowed[c] = true
	}
	a.dispatch = map[Kind]func(context.Context, *session, Call) CallResult{
		KindShell:      a.runShell,
		KindFilesystem: a.runFilesystem,
		KindCodeExec:   a.runCodeExec,
		KindDiagram:    a.runDiagram,
	}
	return a
}

// session is the per-job execution state. It lives for exactly one Run call
// and is never reused.
type session struct {
	jobID   string
	workdir string
	trace   []CallResult
}

// Run interprets the task into capability calls and executes them against
// workdir. Individual call failures are recorded in the trace and do not
// abort the task; Run returns an error only when the sandbox cannot be set
// up, the whole-task deadline expires, or every planned call failed.
func (a *Agent) Run(ctx context.Context, jobID, task, workdir string) (*Result, error) {
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return nil, fmt.Errorf("failed to prepare sandbox workdir: %w", err)
	}

	if err := a.store.Append("system", "New task: "+task); err != nil {
		log.Printf("Context append failed for job %s: %v", jobID, err)
	}

	sess := &session{jobID: jobID, workdir: workdir}
	calls := Plan(task)

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			a.finish(sess, "Task aborted: "+task)
			return &Result{OutputPath: workdir, Trace: sess.trace}, fmt.Errorf("task aborted: %w", err)
		}

		fn, ok := a.dispatch[call.Kind]
		if !ok {
			sess.record(CallResult{
				Kind:      call.Kind,
				StartedAt: time.Now(),
				Error:     fmt.Sprintf("unknown capability: %s", call.Kind),
			})
			continue
		}
		sess.record(fn(ctx, sess, call))
	}

	result := &Result{OutputPath: workdir, Trace: sess.trace}

	if n := result.FailedCalls(); len(calls) > 0 && n == len(calls) {
		first := firstError(sess.trace)
		a.finish(sess, "Task failed: "+task)
		return result, fmt.Errorf("all %d capability calls failed: %s", n, first)
	}

	a.finish(sess, "Task completed: "+task)
	return result, nil
}

// record appends the outcome and mirrors the trace to disk so the job dir is
// the durable record even if the process dies mid-task.
func (s *session) record(res CallResult) {
	res.DurationMS = res.Duration.Milliseconds()
	s.trace = append(s.trace, res)
}

func (a *Agent) finish(sess *session, note string) {
	if err := a.writeTrace(sess); err != nil {
		log.Printf("Failed to write trace for job %s: %v", sess.jobID, err)
	}
	if err := a.store.Append("system", note); err != nil {
		log.Printf("Context append failed for job %s: %v", sess.jobID, err)
	}
}

func (a *Agent) writeTrace(sess *session) error {
	data, err := json.MarshalIndent(sess.trace, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	path := filepath.Join(filepath.Dir(sess.workdir), "trace.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}

func firstError(trace []CallResult) string {
	for i := range trace {
		if trace[i].Failed() {
			return trace[i].Error
		}
	}
	return "unknown error"
}
