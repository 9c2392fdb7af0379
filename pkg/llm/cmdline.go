package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// cliBackend shells out to an installed non-interactive CLI as a
// degenerate backend. Tool schemas are ignored; only the last user turn
// is forwarded as the prompt.
type cliBackend struct {
	command string
	args    []string
}

func newCLIBackend(command string, args []string) *cliBackend {
	if command == "" {
		command = "claude"
	}
	if args == nil {
		args = []string{"-p"}
	}
	return &cliBackend{command: command, args: args}
}

func (b *cliBackend) Convention() Convention {
	return ConventionCLI
}

func (b *cliBackend) Call(ctx context.Context, req Request) (*Response, error) {
	prompt := LastUserContent(req.Transcript)
	if prompt == "" {
		return nil, fmt.Errorf("cli backend requires a user turn")
	}
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}

	args := append(append([]string(nil), b.args...), prompt)
	cmd := exec.CommandContext(ctx, b.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("cli backend timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("cli backend failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	content := strings.TrimSpace(stdout.String())
	if req.OnDelta != nil && content != "" {
		req.OnDelta(content)
	}
	return &Response{Content: content, StopReason: "end_turn"}, nil
}
