package tools

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Process describes one child process.
type Process struct {
	Name   string
	Args   []string
	Env    []string
	Dir    string
	Stdout *PrefixWriter
	Stderr *PrefixWriter
}

// ProcessRunner abstracts process execution for the launcher.
type ProcessRunner interface {
	Run(ctx context.Context, p Process) (int32, error)
}

// ExecRunner executes processes on the local host. Cancelling ctx sends
// SIGINT, then kills after KillDelay.
type ExecRunner struct {
	KillDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, p Process) (int32, error) {
	cmd := exec.CommandContext(ctx, p.Name, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Dir = p.Dir
	if p.Stdout != nil {
		cmd.Stdout = p.Stdout
		defer p.Stdout.Flush()
	}
	if p.Stderr != nil {
		cmd.Stderr = p.Stderr
		defer p.Stderr.Flush()
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = r.KillDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return exitCode, err
}
