package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/fulfillment"
	"github.com/Iron-Ham/packline/internal/tui/styles"
)

// terminal is the line-oriented user interface of the CLI. It confirms on
// stdin, reports toasts on stderr and prints navigation targets.
type terminal struct {
	in        io.Reader
	out       io.Writer
	errOut    io.Writer
	assumeYes bool
	styles    styles.Styles

	wmu       sync.Mutex
	startOnce sync.Once
	lines     chan string
}

var (
	_ fulfillment.Prompter  = (*terminal)(nil)
	_ fulfillment.Navigator = (*terminal)(nil)
	_ fulfillment.Notifier  = (*terminal)(nil)
)

func newTerminal(in io.Reader, out, errOut io.Writer, assumeYes bool, theme string) *terminal {
	return &terminal{
		in:        in,
		out:       out,
		errOut:    errOut,
		assumeYes: assumeYes,
		styles:    styles.New(theme),
		lines:     make(chan string),
	}
}

// start runs the single reader of in. Every line consumer, confirmations
// included, reads from t.lines.
func (t *terminal) start() {
	t.startOnce.Do(func() {
		go func() {
			defer close(t.lines)
			scanner := bufio.NewScanner(t.in)
			for scanner.Scan() {
				t.lines <- scanner.Text()
			}
		}()
	})
}

// ReadLine returns the next input line. It returns io.EOF once input is
// exhausted.
func (t *terminal) ReadLine(ctx context.Context) (string, error) {
	t.start()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

// Confirm asks p on the terminal. Anything but y or yes declines, and so
// does the end of input.
func (t *terminal) Confirm(ctx context.Context, p fulfillment.Prompt) (bool, error) {
	if t.assumeYes {
		return true, nil
	}
	label := p.ConfirmLabel
	if label == "" {
		label = "Continue"
	}
	title := p.Title
	if p.Destructive {
		title = t.styles.WarningMsg.Render(title)
	}
	t.printf(t.errOut, "%s\n%s\n%s? [y/N] ", title, p.Message, label)

	answer, err := t.ReadLine(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Navigate prints the path the user should open.
func (t *terminal) Navigate(path string) {
	t.printf(t.errOut, "%s %s\n", t.styles.Muted.Render("open"), path)
}

// Notify prints a toast.
func (t *terminal) Notify(level event.ToastLevel, message string) {
	var badge string
	switch level {
	case event.ToastSuccess:
		badge = t.styles.SuccessMsg.Render("ok")
	case event.ToastWarning:
		badge = t.styles.WarningMsg.Render("warning")
	case event.ToastError:
		badge = t.styles.ErrorMsg.Render("error")
	default:
		badge = t.styles.Muted.Render("info")
	}
	t.printf(t.errOut, "%s %s\n", badge, message)
}

// Error prints err on standard output. Refusals and bad input show their
// plain message, anything else the whole chain.
func (t *terminal) Error(err error) {
	text := err.Error()
	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindConflict:
		text = errors.UserMessage(err)
	}
	if errors.IsRetryable(err) {
		text += " (try again)"
	}
	style := t.styles.ErrorMsg
	if errors.GetSeverity(err) < errors.SeverityError {
		style = t.styles.WarningMsg
	}
	t.printf(t.out, "%s\n", style.Render(text))
}

// Printf writes to standard output.
func (t *terminal) Printf(format string, args ...any) {
	t.printf(t.out, format, args...)
}

func (t *terminal) printf(w io.Writer, format string, args ...any) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, _ = fmt.Fprintf(w, format, args...)
}
