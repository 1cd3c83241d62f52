package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/codefionn/intentest/internal/testerclient"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"
)

const defaultWidth = 100

// Options controls how session output is printed
type Options struct {
	// Markdown renders assistant content with glamour on terminals
	Markdown bool
	// Width wraps output; 0 uses the terminal width
	Width int
	// Style is a glamour style name; empty picks one from the terminal background
	Style string
}

// Renderer prints the events of a query session to a terminal or a plain
// writer. It is not safe for concurrent use; session handlers are called from
// a single goroutine.
type Renderer struct {
	out   io.Writer
	width int
	md    *glamour.TermRenderer

	roleStyle   lipgloss.Style
	noticeStyle lipgloss.Style
	errorStyle  lipgloss.Style
	dimStyle    lipgloss.Style
	addStyle    lipgloss.Style
	delStyle    lipgloss.Style

	printed int
}

// New creates a renderer writing to out. Markdown rendering is only enabled
// when out is a terminal.
func New(out io.Writer, opts Options) (*Renderer, error) {
	isTTY, termWidth := terminalInfo(out)

	width := opts.Width
	if width <= 0 {
		width = termWidth
	}
	if width <= 0 {
		width = defaultWidth
	}

	lg := lipgloss.NewRenderer(out)
	r := &Renderer{
		out:         out,
		width:       width,
		roleStyle:   lg.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		noticeStyle: lg.NewStyle().Foreground(lipgloss.Color("214")),
		errorStyle:  lg.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		dimStyle:    lg.NewStyle().Faint(true),
		addStyle:    lg.NewStyle().Foreground(lipgloss.Color("34")),
		delStyle:    lg.NewStyle().Foreground(lipgloss.Color("160")),
	}

	if opts.Markdown && isTTY {
		styleOpt := glamour.WithAutoStyle()
		if opts.Style != "" {
			styleOpt = glamour.WithStandardStyle(opts.Style)
		}
		md, err := glamour.NewTermRenderer(
			styleOpt,
			glamour.WithWordWrap(width),
			glamour.WithPreservedNewLines(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		r.md = md
	}

	return r, nil
}

func terminalInfo(out io.Writer) (bool, int) {
	f, ok := out.(*os.File)
	if !ok {
		return false, 0
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, 0
	}
	if width, _, err := term.GetSize(fd); err == nil && width > 0 {
		return true, width
	}
	return true, 0
}

// Messages prints the units of batch that were not printed before. The
// service resends the whole history with every batch; a shorter batch starts
// a new history.
func (r *Renderer) Messages(batch []testerclient.Message) {
	if len(batch) < r.printed {
		fmt.Fprintln(r.out, r.dimStyle.Render("--- history restarted ---"))
		r.printed = 0
	}
	for _, msg := range batch[r.printed:] {
		r.message(msg)
	}
	r.printed = len(batch)
}

// Reset forgets the printed history, e.g. before a new session.
func (r *Renderer) Reset() {
	r.printed = 0
}

func (r *Renderer) message(msg testerclient.Message) {
	fmt.Fprintln(r.out, r.roleStyle.Render(roleLabel(msg.Role)))

	content := strings.TrimRight(msg.Content, "\n")
	if content == "" && msg.Role == "" {
		content = string(msg.Raw)
	}

	if r.md != nil && msg.Role != "user" {
		if rendered, err := r.md.Render(content); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintln(r.out, wordwrap.String(content, r.width))
	fmt.Fprintln(r.out)
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "You"
	case "assistant":
		return "Assistant"
	case "system":
		return "System"
	case "":
		return "Message"
	default:
		return strings.ToUpper(role[:1]) + role[1:]
	}
}

// NoReference prints the notice that the service generates without a
// reference test.
func (r *Renderer) NoReference(junitVersion string) {
	text := "No referable test case found, generating from scratch"
	if junitVersion != "" {
		text += " (JUnit " + junitVersion + ")"
	}
	fmt.Fprintln(r.out, r.noticeStyle.Render(text))
}

// Finished prints the end of a session.
func (r *Renderer) Finished() {
	fmt.Fprintln(r.out, r.dimStyle.Render("Session finished"))
}

// Diff prints a unified diff under its title, coloring changed lines.
func (r *Renderer) Diff(title, unified string) {
	fmt.Fprintln(r.out, r.roleStyle.Render(title))
	for _, line := range strings.Split(strings.TrimRight(unified, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			line = r.dimStyle.Render(line)
		case strings.HasPrefix(line, "+"):
			line = r.addStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			line = r.delStyle.Render(line)
		}
		fmt.Fprintln(r.out, line)
	}
	fmt.Fprintln(r.out)
}

// Notice prints an informational line.
func (r *Renderer) Notice(text string) {
	fmt.Fprintln(r.out, r.noticeStyle.Render(text))
}

// Failure prints err with a description of what went wrong.
func (r *Renderer) Failure(err error) {
	fmt.Fprintln(r.out, r.errorStyle.Render(Describe(err)))
}

// Describe turns a session error into a one-line explanation.
func Describe(err error) string {
	var (
		protoErr     *testerclient.ProtocolError
		statusErr    *testerclient.StatusError
		transportErr *testerclient.TransportError
	)

	switch {
	case err == nil:
		return "no error"
	case errors.As(err, &protoErr):
		return "The tester service sent an unexpected message: " + protoErr.Error()
	case errors.As(err, &statusErr):
		return fmt.Sprintf("The tester service rejected the request with status %d", statusErr.StatusCode)
	case errors.As(err, &transportErr):
		return "Cannot reach the tester service: " + transportErr.Err.Error()
	case errors.Is(err, testerclient.ErrIdleTimeout):
		return "The tester service stopped responding"
	case errors.Is(err, testerclient.ErrPrematureEnd):
		return "The tester service closed the session before finishing"
	case errors.Is(err, context.Canceled):
		return "Session cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Session timed out"
	default:
		return "Session failed: " + err.Error()
	}
}
