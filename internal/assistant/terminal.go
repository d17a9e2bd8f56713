package assistant

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// TerminalID names a terminal emulator.
type TerminalID string

const (
	TerminalAuto        TerminalID = "auto"
	TerminalWT          TerminalID = "wt"
	TerminalCmd         TerminalID = "cmd"
	TerminalPowerShell  TerminalID = "powershell"
	TerminalPwsh        TerminalID = "pwsh"
	TerminalGitBash     TerminalID = "git-bash"
	TerminalGnome       TerminalID = "gnome-terminal"
	TerminalXterm       TerminalID = "xterm"
	TerminalTmux        TerminalID = "tmux"
	TerminalKonsole     TerminalID = "konsole"
	TerminalTerminalApp TerminalID = "terminal-app"
)

// TerminalInfo describes a known terminal and whether it is installed.
type TerminalInfo struct {
	ID        TerminalID `json:"id"`
	Name      string     `json:"name"`
	Command   string     `json:"command,omitempty"`
	Available bool       `json:"available"`
}

var knownTerminals = []TerminalInfo{
	{ID: TerminalAuto, Name: "Auto (System Default)"},
	{ID: TerminalWT, Name: "Windows Terminal", Command: "wt"},
	{ID: TerminalCmd, Name: "Command Prompt", Command: "cmd"},
	{ID: TerminalPowerShell, Name: "PowerShell", Command: "powershell"},
	{ID: TerminalPwsh, Name: "PowerShell Core", Command: "pwsh"},
	{ID: TerminalGitBash, Name: "Git Bash", Command: "bash"},
	{ID: TerminalGnome, Name: "GNOME Terminal", Command: "gnome-terminal"},
	{ID: TerminalXterm, Name: "XTerm", Command: "xterm"},
	{ID: TerminalTmux, Name: "tmux", Command: "tmux"},
	{ID: TerminalKonsole, Name: "Konsole", Command: "konsole"},
	{ID: TerminalTerminalApp, Name: "Terminal.app", Command: "osascript"},
}

// knownPaths are checked when a terminal is not on PATH.
var knownPaths = map[TerminalID][]string{
	TerminalPwsh: {
		`C:\Program Files\PowerShell\7\pwsh.exe`,
		`C:\Program Files (x86)\PowerShell\7\pwsh.exe`,
	},
	TerminalWT: {
		filepath.Join(os.Getenv("LOCALAPPDATA"), `Microsoft\WindowsApps\wt.exe`),
	},
	TerminalGitBash: {
		`C:\Program Files\Git\git-bash.exe`,
	},
}

// ParseTerminal validates a terminal preference.
func ParseTerminal(s string) (TerminalID, error) {
	if s == "" {
		return TerminalAuto, nil
	}
	for _, t := range knownTerminals {
		if string(t.ID) == s {
			return t.ID, nil
		}
	}
	return "", orcherrors.ErrConfigInvalid("assistant.terminal", fmt.Sprintf("unknown terminal %q", s))
}

// autoOrder is the fallback order tried for the auto preference.
func autoOrder(goos string) []TerminalID {
	switch goos {
	case "windows":
		return []TerminalID{TerminalWT, TerminalCmd}
	case "darwin":
		return []TerminalID{TerminalTerminalApp, TerminalTmux}
	default:
		return []TerminalID{TerminalGnome, TerminalKonsole, TerminalXterm, TerminalTmux}
	}
}

// LaunchRequest describes a terminal window to open.
type LaunchRequest struct {
	TaskID int64
	Title  string
	Dir    string
	// Command is run inside the terminal. Empty opens a plain shell.
	Command string
}

// LaunchResult reports which terminal was opened.
type LaunchResult struct {
	Terminal TerminalID `json:"terminal"`
	Hint     string     `json:"hint,omitempty"`
}

// ErrNoTerminal is returned when no terminal could be opened.
var ErrNoTerminal = errors.New("no terminal could be opened")

// Launcher opens terminal windows.
type Launcher struct {
	preferred TerminalID
	goos      string
	lookPath  func(string) (string, error)
	start     func(*exec.Cmd) error
	logger    *slog.Logger
}

// NewLauncher creates a Launcher for the preferred terminal.
func NewLauncher(preferred TerminalID, logger *slog.Logger) *Launcher {
	if preferred == "" {
		preferred = TerminalAuto
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		preferred: preferred,
		goos:      runtime.GOOS,
		lookPath:  exec.LookPath,
		start:     startDetached,
		logger:    logger,
	}
}

// Preferred returns the configured terminal preference.
func (l *Launcher) Preferred() TerminalID {
	return l.preferred
}

// Detect reports every known terminal and whether it is installed.
func (l *Launcher) Detect() []TerminalInfo {
	out := make([]TerminalInfo, len(knownTerminals))
	for i, t := range knownTerminals {
		t.Available = t.ID == TerminalAuto || l.available(t.ID)
		out[i] = t
	}
	return out
}

// DetectTerminals reports the terminals installed on this machine.
func DetectTerminals() []TerminalInfo {
	return NewLauncher(TerminalAuto, nil).Detect()
}

func (l *Launcher) available(id TerminalID) bool {
	for _, t := range knownTerminals {
		if t.ID != id || t.Command == "" {
			continue
		}
		if _, err := l.lookPath(t.Command); err == nil {
			return true
		}
	}
	for _, p := range knownPaths[id] {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// Open launches a terminal. With the auto preference it tries each
// terminal for the platform in order and uses the first that starts.
func (l *Launcher) Open(req LaunchRequest) (LaunchResult, error) {
	if l.preferred != TerminalAuto {
		return l.openWith(l.preferred, req)
	}

	for _, id := range autoOrder(l.goos) {
		if !l.available(id) {
			continue
		}
		res, err := l.openWith(id, req)
		if err == nil {
			return res, nil
		}
		l.logger.Debug("terminal launch failed, trying next", "terminal", id, "error", err)
	}
	return LaunchResult{}, ErrNoTerminal
}

func (l *Launcher) openWith(id TerminalID, req LaunchRequest) (LaunchResult, error) {
	name, args, err := l.command(id, req)
	if err != nil {
		return LaunchResult{}, err
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = req.Dir
	if err := l.start(cmd); err != nil {
		return LaunchResult{}, fmt.Errorf("open %s: %w", id, err)
	}

	res := LaunchResult{Terminal: id}
	if id == TerminalTmux {
		res.Hint = "Attach with: tmux attach -t " + tmuxSession(req.TaskID)
	}
	l.logger.Info("opened terminal", "terminal", id, "task_id", req.TaskID, "dir", req.Dir)
	return res, nil
}

// command returns the executable and arguments that open the terminal.
func (l *Launcher) command(id TerminalID, req LaunchRequest) (string, []string, error) {
	posixShell := "exec bash"
	if req.Command != "" {
		posixShell = req.Command + "; exec bash"
	}
	psCommand := fmt.Sprintf("Set-Location %s; $Host.UI.RawUI.WindowTitle=%s", psQuote(req.Dir), psQuote(req.Title))
	if req.Command != "" {
		psCommand += "; " + req.Command
	}

	switch id {
	case TerminalWT:
		args := []string{"-w", "0", "nt", "--title", req.Title, "-d", req.Dir}
		if req.Command != "" {
			args = append(args, "powershell", "-NoExit", "-Command", req.Command)
		}
		return l.resolve(id, "wt"), args, nil
	case TerminalCmd:
		if l.goos != "windows" {
			return l.command(TerminalTmux, req)
		}
		inner := "cd /d " + req.Dir
		if req.Command != "" {
			inner += " && powershell -NoExit -Command " + req.Command
		}
		return "cmd", []string{"/c", "start", req.Title, "cmd", "/k", inner}, nil
	case TerminalPowerShell:
		return "cmd", []string{"/c", "start", "", "powershell", "-NoExit", "-Command", psCommand}, nil
	case TerminalPwsh:
		return "cmd", []string{"/c", "start", "", l.resolve(id, "pwsh"), "-NoExit", "-Command", psCommand}, nil
	case TerminalGitBash:
		args := []string{"/c", "start", "", l.resolve(id, "git-bash"), "--cd=" + req.Dir}
		if req.Command != "" {
			args = append(args, "-c", posixShell)
		}
		return "cmd", args, nil
	case TerminalGnome:
		return "gnome-terminal", []string{"--title=" + req.Title, "--working-directory=" + req.Dir, "--", "bash", "-c", posixShell}, nil
	case TerminalKonsole:
		return "konsole", []string{"--workdir", req.Dir, "-p", "tabtitle=" + req.Title, "-e", "bash", "-c", posixShell}, nil
	case TerminalXterm:
		return "xterm", []string{"-T", req.Title, "-e", "bash", "-c", "cd " + shellQuote(req.Dir) + " && " + posixShell}, nil
	case TerminalTmux:
		args := []string{"new-session", "-d", "-s", tmuxSession(req.TaskID), "-c", req.Dir}
		if req.Command != "" {
			args = append(args, posixShell)
		}
		return "tmux", args, nil
	case TerminalTerminalApp:
		script := "cd " + shellQuote(req.Dir)
		if req.Command != "" {
			script += " && " + req.Command
		}
		return "osascript", []string{"-e", fmt.Sprintf("tell application \"Terminal\" to do script %q", script)}, nil
	default:
		return "", nil, fmt.Errorf("unsupported terminal %q", id)
	}
}

// resolve prefers a known install path when the command is not on PATH.
func (l *Launcher) resolve(id TerminalID, fallback string) string {
	if p, err := l.lookPath(fallback); err == nil {
		return p
	}
	for _, p := range knownPaths[id] {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fallback
}

func tmuxSession(taskID int64) string {
	return fmt.Sprintf("orch-term-%d", taskID)
}

func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
