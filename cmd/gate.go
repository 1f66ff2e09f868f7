// File: cmd/gate.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
)

// consoleGate is the human-paced control surface: it blocks the loop on
// stdin until the operator resumes a pause or confirms a submission. Both
// waits are cancellable through the context, so Ctrl-C always wins.
type consoleGate struct {
	in          *bufio.Reader
	out         io.Writer
	autoConfirm bool
}

var _ schemas.ManualGate = (*consoleGate)(nil)

func newConsoleGate(in io.Reader, out io.Writer, autoConfirm bool) *consoleGate {
	return &consoleGate{in: bufio.NewReader(in), out: out, autoConfirm: autoConfirm}
}

// AwaitResume blocks until the operator presses Enter.
func (g *consoleGate) AwaitResume(ctx context.Context, reason string) error {
	fmt.Fprintf(g.out, "\nPAUSED: %s\nComplete the step in the browser, then press Enter to resume...\n", reason)
	_, err := g.readLine(ctx)
	return err
}

// ConfirmSubmit blocks until the operator explicitly types "yes". Anything
// else declines. With --auto-confirm the gate opens immediately.
func (g *consoleGate) ConfirmSubmit(ctx context.Context, summary string) error {
	if g.autoConfirm {
		fmt.Fprintf(g.out, "\nSubmitting (auto-confirm): %s\n", summary)
		return nil
	}
	fmt.Fprintf(g.out, "\nReady to submit: %s\nType 'yes' to submit, anything else to hold: ", summary)
	line, err := g.readLine(ctx)
	if err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(line)) != "yes" {
		return fmt.Errorf("submission declined by operator")
	}
	return nil
}

// readLine reads one line without letting a quiet terminal block
// cancellation.
func (g *consoleGate) readLine(ctx context.Context) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := g.in.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && res.line == "" {
			return "", fmt.Errorf("read operator input: %w", res.err)
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
