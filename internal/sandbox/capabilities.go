package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// runShell executes an allow-listed shell command with the working directory
// pinned to the session workdir.
func (a *Agent) runShell(ctx context.Context, sess *session, call Call) CallResult {
	res := CallResult{Kind: KindShell, Detail: call.Command, StartedAt: time.Now()}

	parts := strings.Fields(call.Command)
	if len(parts) == 0 {
		res.Error = "empty command"
		return res
	}
	if !a.allowed[parts[0]] {
		err := &CapabilityError{Kind: KindShell, Detail: call.Command,
			Err: fmt.Errorf("command not allowed: %s", parts[0])}
		res.Error = err.Error()
		return res
	}

	cctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "/bin/sh", "-c", call.Command)
	cmd.Dir = sess.workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Duration = time.Since(res.StartedAt)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
			res.ExitCode = -1
			res.Error = (&CapabilityError{Kind: KindShell, Detail: call.Command,
				Err: fmt.Errorf("timed out after %s", a.callTimeout)}).Error()
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			res.Error = (&CapabilityError{Kind: KindShell, Detail: call.Command,
				Err: fmt.Errorf("exit status %d", res.ExitCode)}).Error()
		default:
			res.ExitCode = -1
			res.Error = (&CapabilityError{Kind: KindShell, Detail: call.Command, Err: err}).Error()
		}
	}

	return res
}

// runFilesystem reads or writes a file confined to the session workdir.
func (a *Agent) runFilesystem(_ context.Context, sess *session, call Call) (res CallResult) {
	res = CallResult{Kind: KindFilesystem, Detail: call.Op + " " + call.Path, StartedAt: time.Now()}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	path, err := sess.resolve(call.Path)
	if err != nil {
		res.Error = (&CapabilityError{Kind: KindFilesystem, Detail: call.Path, Err: err}).Error()
		return res
	}

	switch call.Op {
	case "write":
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			res.Error = (&CapabilityError{Kind: KindFilesystem, Detail: call.Path, Err: err}).Error()
			return res
		}
		if err := os.WriteFile(path, []byte(call.Content), 0644); err != nil {
			res.Error = (&CapabilityError{Kind: KindFilesystem, Detail: call.Path, Err: err}).Error()
			return res
		}
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			res.Error = (&CapabilityError{Kind: KindFilesystem, Detail: call.Path, Err: err}).Error()
			return res
		}
		res.Stdout = string(data)
	default:
		res.Error = fmt.Sprintf("unsupported filesystem op: %s", call.Op)
	}

	return res
}

// Interpreters for the code execution capability.
var interpreters = map[string][]string{
	"python":     {"python3"},
	"javascript": {"node"},
}

var extensions = map[string]string{
	"python":     ".py",
	"javascript": ".js",
}

// runCodeExec writes the code to a temp file inside the workdir, runs it with
// the matching interpreter and captures the outcome. When call.Output is set,
// captured stdout is persisted as an artifact.
func (a *Agent) runCodeExec(ctx context.Context, sess *session, call Call) CallResult {
	res := CallResult{Kind: KindCodeExec, Detail: call.Language, StartedAt: time.Now()}

	argv, ok := interpreters[call.Language]
	if !ok {
		res.Error = (&CapabilityError{Kind: KindCodeExec, Detail: call.Language,
			Err: fmt.Errorf("unsupported language: %s", call.Language)}).Error()
		return res
	}

	tmp := filepath.Join(sess.workdir, "temp_"+uuid.New().String()+extensions[call.Language])
	if err := os.WriteFile(tmp, []byte(call.Code), 0644); err != nil {
		res.Error = (&CapabilityError{Kind: KindCodeExec, Detail: call.Language, Err: err}).Error()
		return res
	}
	defer os.Remove(tmp)

	cctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], append(argv[1:], tmp)...)
	cmd.Dir = sess.workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Duration = time.Since(res.StartedAt)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
			res.ExitCode = -1
			res.Error = (&CapabilityError{Kind: KindCodeExec, Detail: call.Language,
				Err: fmt.Errorf("timed out after %s", a.callTimeout)}).Error()
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			res.Error = (&CapabilityError{Kind: KindCodeExec, Detail: call.Language,
				Err: fmt.Errorf("exit status %d", res.ExitCode)}).Error()
		default:
			res.ExitCode = -1
			res.Error = (&CapabilityError{Kind: KindCodeExec, Detail: call.Language, Err: err}).Error()
		}
		return res
	}

	if call.Output != "" {
		if path, err := sess.resolve(call.Output); err == nil {
			if werr := os.WriteFile(path, stdout.Bytes(), 0644); werr != nil {
				res.Error = (&CapabilityError{Kind: KindCodeExec, Detail: call.Output, Err: werr}).Error()
			}
		}
	}

	return res
}

// runDiagram renders DOT source to a PNG under the workdir. Rendering drives
// the shared display surface, so it runs under the display lease.
func (a *Agent) runDiagram(ctx context.Context, sess *session, call Call) CallResult {
	res := CallResult{Kind: KindDiagram, Detail: call.Output, StartedAt: time.Now()}

	cctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	if err := a.display.Acquire(cctx); err != nil {
		res.Duration = time.Since(res.StartedAt)
		res.TimedOut = errors.Is(err, context.DeadlineExceeded)
		res.Error = (&CapabilityError{Kind: KindDiagram, Detail: call.Output,
			Err: fmt.Errorf("display unavailable: %w", err)}).Error()
		return res
	}
	defer a.display.Release()

	outPath, err := sess.resolve(call.Output)
	if err != nil {
		res.Error = (&CapabilityError{Kind: KindDiagram, Detail: call.Output, Err: err}).Error()
		return res
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		res.Error = (&CapabilityError{Kind: KindDiagram, Detail: call.Output, Err: err}).Error()
		return res
	}

	dotFile := filepath.Join(sess.workdir, "temp_"+uuid.New().String()+".dot")
	if err := os.WriteFile(dotFile, []byte(call.Source), 0644); err != nil {
		res.Error = (&CapabilityError{Kind: KindDiagram, Detail: call.Output, Err: err}).Error()
		return res
	}
	defer os.Remove(dotFile)

	cmd := exec.CommandContext(cctx, "dot", "-Tpng", dotFile, "-o", outPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	res.Duration = time.Since(res.StartedAt)
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
			res.ExitCode = -1
			res.Error = (&CapabilityError{Kind: KindDiagram, Detail: call.Output,
				Err: fmt.Errorf("timed out after %s", a.callTimeout)}).Error()
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			res.Error = (&CapabilityError{Kind: KindDiagram, Detail: call.Output,
				Err: fmt.Errorf("dot failed: %s", strings.TrimSpace(stderr.String()))}).Error()
		default:
			res.ExitCode = -1
			res.Error = (&CapabilityError{Kind: KindDiagram, Detail: call.Output, Err: err}).Error()
		}
	}

	return res
}

// resolve maps a task-supplied relative path onto the workdir, rejecting
// absolute paths and traversal outside the sandbox root.
func (s *session) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) || !filepath.IsLocal(cleaned) {
		return "", fmt.Errorf("path escapes sandbox: %s", rel)
	}
	return filepath.Join(s.workdir, cleaned), nil
}
