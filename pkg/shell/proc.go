package shell

import (
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Proc is a handle to a long-running subprocess, such as a camera capture
// process. The process is placed in its own process group, so that Stop can
// signal the entire group. Stop escalates from SIGTERM to SIGKILL, and is
// idempotent, so it is safe to call from failure paths.
type Proc struct {
	cmd     *exec.Cmd
	exited  chan struct{} // Closed when the process has exited
	waitErr error         // Only read after 'exited' is closed

	stopLock sync.Mutex
	stopped  bool
}

// StartProc starts a subprocess. If wantStdout is true, the returned reader
// is connected to the process's stdout.
func StartProc(wantStdout bool, name string, args ...string) (*Proc, io.ReadCloser, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stdout io.ReadCloser
	if wantStdout {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	p := &Proc{
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, stdout, nil
}

// Running returns true if the process has not yet exited.
func (p *Proc) Running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits, or the timeout elapses. On timeout
// the process is force-killed and StatusTimedOut is returned.
func (p *Proc) Wait(timeout time.Duration) Status {
	select {
	case <-p.exited:
		return p.exitStatus()
	case <-time.After(timeout):
		p.signalGroup(syscall.SIGKILL)
		<-p.exited
		return StatusTimedOut
	}
}

// Stop terminates the process: SIGTERM first, and if it has not exited
// within 'grace', SIGKILL. Safe to call more than once.
func (p *Proc) Stop(grace time.Duration) {
	p.stopLock.Lock()
	alreadyStopped := p.stopped
	p.stopped = true
	p.stopLock.Unlock()
	if alreadyStopped {
		<-p.exited
		return
	}

	p.signalGroup(syscall.SIGTERM)
	select {
	case <-p.exited:
		return
	case <-time.After(grace):
	}
	p.signalGroup(syscall.SIGKILL)
	<-p.exited
}

func (p *Proc) exitStatus() Status {
	if p.waitErr != nil {
		return StatusExitedNonZero
	}
	return StatusExitedOK
}

func (p *Proc) signalGroup(sig syscall.Signal) {
	if p.cmd.Process == nil {
		return
	}
	// Negative pid signals the whole process group
	syscall.Kill(-p.cmd.Process.Pid, sig)
}
