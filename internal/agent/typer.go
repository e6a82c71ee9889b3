package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	typeTimeout = 10 * time.Second
	typeDelayMS = "50"
)

// CommandTyper injects keystrokes through xdotool or a compatible
// binary. Text goes over stdin so secrets never appear in argv.
type CommandTyper struct {
	Path string
}

func (t CommandTyper) Type(ctx context.Context, text string) error {
	return t.run(ctx, strings.NewReader(text), "type", "--delay", typeDelayMS, "--file", "-")
}

func (t CommandTyper) Submit(ctx context.Context) error {
	return t.run(ctx, nil, "key", "Return")
}

func (t CommandTyper) run(ctx context.Context, stdin *strings.Reader, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, typeTimeout)
	defer cancel()

	path := firstNonEmpty(t.Path, "xdotool")
	cmd := exec.CommandContext(ctx, path, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &ProcessError{Op: args[0], Err: fmt.Errorf("%s: %w: %s", path, err, strings.TrimSpace(stderr.String()))}
	}
	return nil
}
