package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/nevindra/switchboard"
)

// stopGrace is how long a stdio server gets to exit after its stdin closes
// before it is killed.
const stopGrace = 3 * time.Second

// dialStdio launches spec.Command and speaks newline-delimited JSON-RPC over
// its stdin/stdout. The process is not tied to ctx: bindings outlive the
// discovery call that opened them and are shut down via close instead. The
// child's stderr is drained into the logger.
func dialStdio(_ context.Context, spec switchboard.TransportSpec, timeout time.Duration, logger *slog.Logger) (*stream, error) {
	if spec.Command == "" {
		return nil, errors.New("stdio transport requires a command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	logger.Debug("started tool server process", "command", spec.Command, "pid", cmd.Process.Pid)

	go drainStderr(stderr, spec.Command, logger)

	closeFn := func() error {
		// Closing stdin asks the server to exit; kill it if it lingers.
		stdin.Close()
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(stopGrace):
			_ = cmd.Process.Kill()
			<-done
		}
		return nil
	}

	return newStream(stdout, stdin, closeFn, timeout, logger), nil
}

// drainStderr logs the subprocess's stderr line by line so crashes and
// startup complaints end up in our logs instead of vanishing.
func drainStderr(r io.Reader, command string, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			logger.Debug("tool server stderr", "command", command, "line", line)
		}
	}
}
