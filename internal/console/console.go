// Package console runs the interactive terminal tutor on top of a session.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"manual-tutor/internal/domain"
	"manual-tutor/internal/usecase"
)

const banner = `
  Manual tutor
  Ask questions about the loaded manuals. Type /help for commands.
`

const historyLimit = 20

// Service is the session surface the tutor drives.
type Service interface {
	Setup(ctx context.Context, in usecase.SetupInput) (usecase.SetupOutput, error)
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	Reconfigure(ctx context.Context, sessionID string) (usecase.SetupOutput, error)
	Teardown(ctx context.Context, sessionID string) (usecase.TeardownOutput, error)
	History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
}

type Options struct {
	SessionID string
	// Prompt enables the "> " prompt. Disable it when input is not a terminal.
	Prompt bool
	Logger *slog.Logger
}

type Console struct {
	svc       Service
	in        io.Reader
	out       io.Writer
	sessionID string
	prompt    bool
	log       *slog.Logger

	status *color.Color
	warn   *color.Color
	fail   *color.Color
	muted  *color.Color
}

func New(svc Service, in io.Reader, out io.Writer, opts Options) (*Console, error) {
	if svc == nil {
		return nil, errors.New("console: service must not be nil")
	}
	if in == nil || out == nil {
		return nil, errors.New("console: input and output must not be nil")
	}
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, errors.New("console: session ID must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		svc:       svc,
		in:        in,
		out:       out,
		sessionID: opts.SessionID,
		prompt:    opts.Prompt,
		log:       logger,
		status:    color.New(color.FgCyan),
		warn:      color.New(color.FgYellow),
		fail:      color.New(color.FgRed, color.Bold),
		muted:     color.New(color.FgHiBlack),
	}, nil
}

// Run sets the session up and then answers one question per input line until
// /quit, end of input, or ctx is done. A configuration error during the initial
// setup is returned; errors on individual questions are printed and the loop continues.
func (c *Console) Run(ctx context.Context) error {
	c.status.Fprint(c.out, banner)
	c.muted.Fprintf(c.out, "  session: %s\n\n", c.sessionID)

	c.status.Fprintln(c.out, "Preparing the assistant...")
	out, err := c.svc.Setup(ctx, usecase.SetupInput{SessionID: c.sessionID})
	if err != nil {
		c.printError(err)
		return fmt.Errorf("console: setup: %w", err)
	}
	c.printSetup(out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		if c.prompt {
			c.status.Fprint(c.out, "> ")
		}
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-scanErr:
				if err != nil {
					return fmt.Errorf("console: read input: %w", err)
				}
			default:
			}
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.command(ctx, line); quit {
				return nil
			}
			continue
		}
		c.ask(ctx, line)
	}
}

// command runs a slash command and reports whether the loop should stop.
func (c *Console) command(ctx context.Context, line string) bool {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/quit", "/exit":
		c.muted.Fprintln(c.out, "Bye.")
		return true
	case "/help":
		fmt.Fprintln(c.out, "  /history      show previous questions and answers")
		fmt.Fprintln(c.out, "  /reconfigure  rebuild the assistant from the documents folder")
		fmt.Fprintln(c.out, "  /teardown     delete the assistant and its vector store")
		fmt.Fprintln(c.out, "  /quit         leave the tutor")
	case "/history":
		c.history(ctx)
	case "/reconfigure":
		c.status.Fprintln(c.out, "Rebuilding the assistant...")
		out, err := c.svc.Reconfigure(ctx, c.sessionID)
		if err != nil {
			c.printError(err)
			return false
		}
		c.printSetup(out)
	case "/teardown":
		out, err := c.svc.Teardown(ctx, c.sessionID)
		if err != nil {
			c.printError(err)
			return false
		}
		c.printWarnings(out.Warnings)
		if out.Removed {
			c.status.Fprintln(c.out, "Assistant removed. Use /reconfigure to set it up again.")
		} else {
			c.muted.Fprintln(c.out, "Nothing to remove.")
		}
	default:
		c.warn.Fprintf(c.out, "Unknown command %s. Type /help for commands.\n", line)
	}
	return false
}

func (c *Console) ask(ctx context.Context, question string) {
	c.muted.Fprintln(c.out, "Thinking...")
	out, err := c.svc.Ask(ctx, usecase.AskInput{SessionID: c.sessionID, Question: question})
	if err != nil {
		c.printError(err)
		return
	}
	c.printWarnings(out.Warnings)
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, out.Answer)
	fmt.Fprintln(c.out)
}

func (c *Console) history(ctx context.Context) {
	msgs, err := c.svc.History(ctx, c.sessionID, historyLimit)
	if err != nil {
		c.printError(err)
		return
	}
	if len(msgs) == 0 {
		c.muted.Fprintln(c.out, "No questions yet.")
		return
	}
	for i, m := range msgs {
		c.status.Fprintf(c.out, "%d. %s\n", i+1, m.Question)
		fmt.Fprintf(c.out, "   %s\n", strings.ReplaceAll(m.Answer, "\n", "\n   "))
	}
}

func (c *Console) printSetup(out usecase.SetupOutput) {
	c.printWarnings(out.Warnings)
	if out.AlreadySetUp {
		c.status.Fprintln(c.out, "Assistant already configured for this session.")
	} else {
		c.status.Fprintf(c.out, "Assistant ready with %d document(s).\n", len(out.Documents))
	}
	for _, d := range out.Documents {
		c.muted.Fprintf(c.out, "  - %s\n", d)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printWarnings(ws []usecase.Warning) {
	for _, w := range ws {
		c.warn.Fprintf(c.out, "warning: %s", describeWarning(w.Code))
		if w.Message != "" {
			c.muted.Fprintf(c.out, " (%s)", w.Message)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) printError(err error) {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		c.log.Error("unexpected error", "err", err)
		c.fail.Fprintf(c.out, "error: %v\n", err)
		return
	}
	c.fail.Fprintf(c.out, "error: %s\n", describeError(usecaseErr))
	if usecaseErr.Err != nil {
		c.muted.Fprintf(c.out, "  %v\n", usecaseErr.Err)
	}
}

func describeWarning(code usecase.WarningCode) string {
	switch code {
	case usecase.WarningThreadRecovered:
		return "the previous conversation was lost, a new one was started"
	case usecase.WarningTranslationFailed:
		return "translation failed, showing the original answer"
	case usecase.WarningTranscriptNotSaved:
		return "the answer was not saved to history"
	case usecase.WarningTeardownIncomplete:
		return "some remote resources could not be deleted"
	default:
		return string(code)
	}
}

func describeError(err *usecase.Error) string {
	switch err.Code {
	case usecase.ErrorNotReady:
		return "the assistant is not set up. Use /reconfigure."
	case usecase.ErrorConfiguration:
		return "the assistant could not be configured (" + err.Reason + ")"
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return "the question was rejected (" + err.Reason + ")"
	case usecase.ErrorRunFailed:
		return "the assistant failed to answer (" + err.Reason + ")"
	case usecase.ErrorRequiresAction:
		return "the assistant requested an action this tutor cannot perform"
	case usecase.ErrorNoAnswer:
		return "the assistant finished without an answer"
	case usecase.ErrorTimeout:
		return "the assistant took too long to answer"
	case usecase.ErrorRateLimited:
		return "rate limited by the provider, try again shortly"
	case usecase.ErrorCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("%s (%s)", err.Code, err.Reason)
	}
}
