package shell

import (
	"bytes"
	"os/exec"
	"time"
)

// Status is the explicit outcome of a subprocess run. We distinguish a
// timeout from a non-zero exit so that callers can't accidentally swallow
// a timeout as success, or as an ordinary failure.
type Status int

const (
	StatusExitedOK Status = iota
	StatusExitedNonZero
	StatusTimedOut
	StatusStartFailed
)

func (s Status) String() string {
	switch s {
	case StatusExitedOK:
		return "ExitedOK"
	case StatusExitedNonZero:
		return "ExitedNonZero"
	case StatusTimedOut:
		return "TimedOut"
	case StatusStartFailed:
		return "StartFailed"
	}
	return "Unknown"
}

// Result of RunTimeout
type Result struct {
	Status   Status
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error // Only populated for StatusStartFailed
}

func (r *Result) OK() bool {
	return r.Status == StatusExitedOK
}

// We prefer to return stderr over the process exit code
type ExitErrorVerbose struct {
	E exec.ExitError
}

func (e ExitErrorVerbose) Error() string {
	if len(e.E.Stderr) != 0 {
		return string(e.E.Stderr)
	}
	return e.E.Error()
}

// Run a process to completion, and return its stdout
func Run(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", ExitErrorVerbose{*exitErr}
		}
		return "", err
	}
	return string(out), nil
}

// RunTimeout runs a process to completion, killing it if it exceeds 'timeout'.
func RunTimeout(timeout time.Duration, name string, args ...string) Result {
	cmd := exec.Command(name, args...)
	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return Result{Status: StatusStartFailed, ExitCode: -1, Err: err}
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	select {
	case err := <-done:
		r := Result{
			ExitCode: cmd.ProcessState.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
		if err != nil {
			r.Status = StatusExitedNonZero
		} else {
			r.Status = StatusExitedOK
		}
		return r
	case <-time.After(timeout):
		cmd.Process.Kill()
		<-done
		return Result{
			Status:   StatusTimedOut,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}
}
