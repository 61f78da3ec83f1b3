package verdict

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
)

// ErrCompilerUnavailable is returned by Preflight when the compiler binary or
// its standard library cannot be found.
var ErrCompilerUnavailable = errors.New("compiler unavailable")

// SourceFileName is the name the candidate is written under. Diagnostics refer
// to it verbatim.
const SourceFileName = "source.st"

// CompileResult is the raw outcome of a compiler run that reached exit.
type CompileResult struct {
	Command  string
	ExitCode int
	Output   string // stdout and stderr interleaved, verbatim
	Elapsed  time.Duration
}

// Clean reports whether the compiler accepted the source: exit status zero
// and no output at all.
func (r *CompileResult) Clean() bool {
	return r.ExitCode == 0 && strings.TrimSpace(r.Output) == ""
}

// ProcessError is a compiler run that did not reach a normal exit: it could
// not start, was killed by a signal, timed out, or was cancelled.
type ProcessError struct {
	Command  string
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
	Err      error
}

func (e *ProcessError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s: timed out after %s", e.Command, e.Elapsed.Round(time.Millisecond))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Compiler is the authoritative semantic checker.
type Compiler interface {
	// Check compiles source. A nil error means the process ran to exit and
	// the result should be interpreted; a non-nil error is an infrastructure
	// failure and says nothing about the source.
	Check(ctx context.Context, source string) (*CompileResult, error)
}

// Preflighter is implemented by compilers that can verify their environment
// before a run starts.
type Preflighter interface {
	Preflight() error
}

// MatiecConfig configures the matiec iec2c compiler adapter.
type MatiecConfig struct {
	Binary      string        // iec2c or a path to it
	IncludePath string        // standard library directory passed with -I
	Timeout     time.Duration // hard wall-clock limit per run
	ExtraArgs   []string      // inserted before the source file
	TempDir     string        // parent of the per-run scratch directories
}

// MatiecCompiler runs iec2c in a scratch directory per candidate.
type MatiecCompiler struct {
	cfg MatiecConfig
}

// NewMatiecCompiler returns a compiler adapter. Zero fields take defaults.
func NewMatiecCompiler(cfg MatiecConfig) *MatiecCompiler {
	if cfg.Binary == "" {
		cfg.Binary = "iec2c"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MatiecCompiler{cfg: cfg}
}

// Preflight verifies the binary is executable and the include path exists.
func (m *MatiecCompiler) Preflight() error {
	if _, err := m.binary(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCompilerUnavailable, m.cfg.Binary, err)
	}
	if m.cfg.IncludePath != "" {
		info, err := os.Stat(m.cfg.IncludePath)
		if err != nil {
			return fmt.Errorf("%w: include path: %v", ErrCompilerUnavailable, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: include path %s is not a directory", ErrCompilerUnavailable, m.cfg.IncludePath)
		}
	}
	return nil
}

// binary resolves the compiler to an absolute path; the process runs with its
// working directory set to the scratch directory.
func (m *MatiecCompiler) binary() (string, error) {
	path, err := exec.LookPath(m.cfg.Binary)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

// Check writes source into a fresh scratch directory and compiles it there.
func (m *MatiecCompiler) Check(ctx context.Context, source string) (*CompileResult, error) {
	bin, err := m.binary()
	if err != nil {
		return nil, &ProcessError{Command: m.cfg.Binary, ExitCode: -1, Err: err}
	}

	dir, err := os.MkdirTemp(m.cfg.TempDir, "stdistill-*")
	if err != nil {
		return nil, &ProcessError{Command: bin, ExitCode: -1, Err: fmt.Errorf("scratch dir: %w", err)}
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, SourceFileName), []byte(source), 0o644); err != nil {
		return nil, &ProcessError{Command: bin, ExitCode: -1, Err: fmt.Errorf("write source: %w", err)}
	}
	if err := os.Mkdir(filepath.Join(dir, "out"), 0o755); err != nil {
		return nil, &ProcessError{Command: bin, ExitCode: -1, Err: fmt.Errorf("output dir: %w", err)}
	}

	args := []string{"-T", "out"}
	if m.cfg.IncludePath != "" {
		inc, err := filepath.Abs(m.cfg.IncludePath)
		if err != nil {
			return nil, &ProcessError{Command: bin, ExitCode: -1, Err: err}
		}
		args = append(args, "-I", inc)
	}
	args = append(args, m.cfg.ExtraArgs...)
	args = append(args, SourceFileName)

	return runBounded(ctx, dir, m.cfg.Timeout, bin, args...)
}

// pipeWaitDelay bounds how long Wait drains output after the process exits.
const pipeWaitDelay = time.Second

// runBounded runs a command in its own process group with a wall-clock limit.
// The whole group is killed on every exit path so no compiler child outlives
// the call.
func runBounded(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (*CompileResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := strings.Join(append([]string{name}, args...), " ")

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	// A descendant that left the group can hold the output pipe open after
	// the compiler exits; stop waiting for it.
	cmd.WaitDelay = pipeWaitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Command: command, ExitCode: -1, Err: fmt.Errorf("start: %w", err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		perr := &ProcessError{Command: command, ExitCode: -1, Elapsed: time.Since(start), Err: ctx.Err()}
		perr.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return nil, perr
	case err = <-done:
		// Children that detached from the compiler still belong to its group.
		killProcessGroup(cmd)
	}
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ProcessError{Command: command, ExitCode: -1, Elapsed: elapsed, Err: err}
		}
		exitCode = exitErr.ExitCode()
		if exitCode < 0 {
			// Terminated by a signal: a crash, not a diagnostic.
			return nil, &ProcessError{Command: command, ExitCode: exitCode, Elapsed: elapsed, Err: err}
		}
	}

	return &CompileResult{
		Command:  command,
		ExitCode: exitCode,
		Output:   out.String(),
		Elapsed:  elapsed,
	}, nil
}
