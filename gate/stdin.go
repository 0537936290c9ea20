package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/hupe1980/taskmesh/core"
)

// StdinOptions configures the interactive terminal approver.
type StdinOptions struct {
	// Input defaults to os.Stdin.
	Input io.Reader
	// Output defaults to os.Stdout.
	Output io.Writer
	// Timeout after which the breakpoint is rejected. Zero waits forever.
	Timeout time.Duration
	// ResolvedBy identifies the operator in run records.
	ResolvedBy string
	// ColorEnabled toggles ANSI colors on the prompt.
	ColorEnabled bool
}

// Stdin prompts an operator on the terminal when a run suspends at a
// breakpoint. A timeout resolves to rejection rather than an error so the
// run keeps a clean record of the decision.
type Stdin struct {
	opts StdinOptions
}

// NewStdin creates an interactive terminal approver.
func NewStdin(optFns ...func(o *StdinOptions)) *Stdin {
	opts := StdinOptions{
		Input:        os.Stdin,
		Output:       os.Stdout,
		ResolvedBy:   "operator",
		ColorEnabled: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Stdin{opts: opts}
}

// Resolve implements core.Approver.
func (s *Stdin) Resolve(ctx context.Context, req *core.BreakpointRequest) (*core.Resolution, error) {
	s.display(req)

	resCh := make(chan *core.Resolution, 1)
	errCh := make(chan error, 1)

	go func() {
		res, err := s.readDecision()
		if err != nil {
			errCh <- err
			return
		}
		resCh <- res
	}()

	waitCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	select {
	case res := <-resCh:
		return res, nil
	case err := <-errCh:
		return nil, err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fmt.Fprintln(s.opts.Output)
		fmt.Fprintln(s.opts.Output, s.colorize("Timeout, breakpoint rejected", color.FgRed))

		return &core.Resolution{
			Approved:   false,
			Note:       "approval timeout",
			ResolvedBy: s.opts.ResolvedBy,
			ResolvedAt: time.Now().UTC(),
		}, nil
	}
}

// display renders the breakpoint block the operator decides on.
func (s *Stdin) display(req *core.BreakpointRequest) {
	separator := strings.Repeat("=", 80)
	out := s.opts.Output

	fmt.Fprintln(out)
	fmt.Fprintln(out, s.colorize(separator, color.FgCyan))
	fmt.Fprintln(out, s.colorize(fmt.Sprintf("Breakpoint: %s", req.Title), color.FgYellow, color.Bold))
	fmt.Fprintln(out, s.colorize(fmt.Sprintf("Run: %s (%s)", req.RunID, req.Process), color.FgWhite))
	fmt.Fprintln(out, s.colorize(separator, color.FgCyan))

	if req.Question != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, s.colorize("Question:", color.FgCyan))
		fmt.Fprintln(out, req.Question)
	}

	if req.Summary != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, s.colorize("Summary:", color.FgCyan))
		fmt.Fprintln(out, req.Summary)
	}

	if len(req.Files) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, s.colorize("Files for review:", color.FgCyan))
		for _, f := range req.Files {
			line := fmt.Sprintf("  %s", f.Path)
			if f.Description != "" {
				line += fmt.Sprintf("  (%s)", f.Description)
			}
			fmt.Fprintln(out, line)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, s.colorize(separator, color.FgCyan))
}

// readDecision reads and parses the operator's choice.
func (s *Stdin) readDecision() (*core.Resolution, error) {
	out := s.opts.Output

	fmt.Fprintln(out)
	fmt.Fprintln(out, s.colorize("Approve and resume this run?", color.FgYellow, color.Bold))
	fmt.Fprintln(out, "  [y] Yes, resume")
	fmt.Fprintln(out, "  [n] No, reject")
	fmt.Fprint(out, s.colorize("Choice: ", color.FgCyan))

	reader := bufio.NewReader(s.opts.Input)

	for {
		input, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read approval input: %w", err)
		}

		switch strings.TrimSpace(strings.ToLower(input)) {
		case "y", "yes":
			return &core.Resolution{
				Approved:   true,
				Note:       "approved from terminal",
				ResolvedBy: s.opts.ResolvedBy,
				ResolvedAt: time.Now().UTC(),
			}, nil
		case "n", "no":
			return &core.Resolution{
				Approved:   false,
				Note:       "rejected from terminal",
				ResolvedBy: s.opts.ResolvedBy,
				ResolvedAt: time.Now().UTC(),
			}, nil
		default:
			fmt.Fprintln(out, s.colorize("Invalid choice. Please enter y or n.", color.FgRed))
			fmt.Fprint(out, s.colorize("Choice: ", color.FgCyan))
		}
	}
}

// colorize applies color to text if color is enabled.
func (s *Stdin) colorize(text string, attributes ...color.Attribute) string {
	if !s.opts.ColorEnabled {
		return text
	}

	return color.New(attributes...).Sprint(text)
}
