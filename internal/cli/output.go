package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/randalmurphal/orch/internal/task"
)

const defaultWidth = 100

var (
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// terminal describes the output stream.
type terminal struct {
	color bool
	width int
}

// detectTerminal reports whether w is a colour-capable terminal and how
// wide it is. Anything that is not a TTY gets no colour and the default
// width.
func detectTerminal(w io.Writer) terminal {
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return terminal{width: defaultWidth}
	}
	width := defaultWidth
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
		width = cols
	}
	return terminal{color: os.Getenv("NO_COLOR") == "", width: width}
}

// status renders a task status, coloured on a terminal.
func (t terminal) status(s task.Status) string {
	if !t.color {
		return string(s)
	}
	switch s {
	case task.StatusPending:
		return pendingStyle.Render(string(s))
	case task.StatusRunning:
		return runningStyle.Render(string(s))
	case task.StatusCompleted:
		return completedStyle.Render(string(s))
	case task.StatusFailed:
		return failedStyle.Render(string(s))
	default:
		return string(s)
	}
}

func (t terminal) label(s string) string {
	if !t.color {
		return s
	}
	return labelStyle.Render(s)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// describe returns a one-line summary of what a task is about.
func describe(t *task.Task) string {
	c := t.Context
	if c.Title != "" {
		return c.Title
	}
	switch {
	case c.PRNumber != 0:
		return fmt.Sprintf("PR #%d", c.PRNumber)
	case c.IssueNumber != 0:
		return fmt.Sprintf("Issue #%d", c.IssueNumber)
	case c.WorkItemID != 0:
		return fmt.Sprintf("Work item #%d", c.WorkItemID)
	default:
		return "-"
	}
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxLen < 4 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// since renders how long ago a time was, rounded to a readable unit.
func since(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
