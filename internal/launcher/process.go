package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"mcpgate/pkg/logging"
)

// ProcessSpec describes a child process.
type ProcessSpec struct {
	Path string
	Args []string
	// Env is appended to the launcher's own environment.
	Env []string
	Dir string
}

// process is a started child and the state of its exit.
type process struct {
	name string
	cmd  *exec.Cmd

	done     chan struct{}
	exitErr  error
	stopOnce sync.Once
	stopping bool
	mu       sync.Mutex
}

func startProcess(name string, spec ProcessSpec, logs *LogBuffer) (*process, error) {
	if spec.Path == "" {
		return nil, errors.New("no executable configured")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	configureProcAttr(cmd)

	stdout := logs.Writer(name)
	stderr := logs.Writer(name)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	logging.Info("Launcher", "Started %s process (pid %d)", name, cmd.Process.Pid)

	p := &process{name: name, cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		_ = stdout.Close()
		_ = stderr.Close()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// err returns the exit error once the process has exited.
func (p *process) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// requested reports whether the exit was asked for by stop.
func (p *process) requested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// stop sends a termination signal and kills the process group if it is
// still running after grace.
func (p *process) stop(grace time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopping = true
		p.mu.Unlock()

		if p.exited() {
			return
		}
		logging.Debug("Launcher", "Stopping %s process (pid %d)", p.name, p.pid())
		if termErr := terminate(p.cmd); termErr != nil {
			logging.Debug("Launcher", "Failed to signal %s process: %v", p.name, termErr)
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		}

		logging.Warn("Launcher", "%s process did not exit within %s, killing it", p.name, grace)
		if killErr := kill(p.cmd); killErr != nil {
			err = fmt.Errorf("failed to kill %s process: %w", p.name, killErr)
			return
		}
		<-p.done
	})
	return err
}
