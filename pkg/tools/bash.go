package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/forgehive/colony/pkg/safety"
	"github.com/forgehive/colony/pkg/store"
)

// toolBash runs a shell command on the host. It is a convenience for the
// agents, not a sandbox: the safety filter blocks known-destructive
// commands, everything else runs with the daemon's own privileges under a
// timeout.
func (e *Executor) toolBash(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	command := stringArg(args, "command")

	if reason, blocked := safety.CheckCommand(command); blocked {
		e.logger.Warn().
			Str("agent", caller.ID).
			Str("command", command).
			Str("reason", reason).
			Msg("Blocked shell command")
		return map[string]interface{}{
			"blocked":   true,
			"reason":    reason,
			"exit_code": -1,
			"stdout":    "",
			"stderr":    "command blocked: " + reason,
		}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, e.bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	errText := ""
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		exitCode = -1
		errText = "command timed out"
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		// spawn failure, e.g. sh missing
		exitCode = -1
		errText = err.Error()
	}

	outText, outTruncated := truncate(stdout.Bytes(), e.maxOutputBytes)
	errOut, errTruncated := truncate(stderr.Bytes(), e.maxOutputBytes)
	if errText != "" {
		if errOut != "" {
			errOut += "\n"
		}
		errOut += errText
	}

	return map[string]interface{}{
		"exit_code": exitCode,
		"stdout":    outText,
		"stderr":    errOut,
		"truncated": outTruncated || errTruncated,
	}, nil
}

func truncate(b []byte, max int) (string, bool) {
	if len(b) <= max {
		return string(b), false
	}
	return string(b[:max]), true
}
