// Package cliui provides centralized text styling for filecoordctl output.
//
// All functions return styled strings using lipgloss, which automatically
// respects NO_COLOR env, non-TTY output, and terminal color capabilities.
// Call Disable() to force plain text output (e.g. for --no-color flags).
package cliui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/anthropics/filecoord/internal/coordinator"
)

var disabled bool

var (
	bold     = lipgloss.NewStyle().Bold(true)
	green    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	red      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	yellow   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	cyan     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boldCyan = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
)

func render(style lipgloss.Style, s string) string {
	if disabled {
		return s
	}
	return style.Render(s)
}

func Bold(s string) string     { return render(bold, s) }
func Green(s string) string    { return render(green, s) }
func Red(s string) string      { return render(red, s) }
func Yellow(s string) string   { return render(yellow, s) }
func Cyan(s string) string     { return render(cyan, s) }
func Dim(s string) string      { return render(dim, s) }
func BoldCyan(s string) string { return render(boldCyan, s) }

// Disable forces all render functions to return plain text.
// Call before producing output when the user passes --no-color.
func Disable() { disabled = true }

// Reset re-enables styling. Useful in tests to avoid state leaking.
func Reset() { disabled = false }

// ConflictKindLabel renders a conflict kind with the color a human reading
// a terminal report would expect: reds for writer-vs-writer, yellow for an
// out-of-band edit.
func ConflictKindLabel(kind coordinator.ConflictKind) string {
	switch kind {
	case coordinator.ConflictConcurrentWrite:
		return Red(string(kind))
	case coordinator.ConflictExternalChange:
		return Yellow(string(kind))
	case coordinator.ConflictMergeConflict:
		return Red(string(kind))
	default:
		return string(kind)
	}
}

// FormatConflictSummary renders a one-line summary for `conflicts list`.
func FormatConflictSummary(c *coordinator.Conflict) string {
	sessions := make([]string, 0, len(c.InvolvedSessions))
	for _, s := range c.InvolvedSessions {
		sessions = append(sessions, s.SessionID)
	}
	return fmt.Sprintf("%s  %s  [%s]  sessions=%s",
		Dim(shortID(c.ConflictID)),
		Bold(c.FilePath),
		ConflictKindLabel(c.Kind),
		strings.Join(sessions, ","),
	)
}

// FormatConflictDetail renders a multi-line report for a single conflict,
// including merge-conflict region counts when a line-level merge was
// attempted.
func FormatConflictDetail(c *coordinator.Conflict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Bold("Conflict"), Dim(c.ConflictID))
	fmt.Fprintf(&b, "  file:  %s\n", c.FilePath)
	fmt.Fprintf(&b, "  kind:  %s\n", ConflictKindLabel(c.Kind))
	fmt.Fprintf(&b, "  time:  %s\n", c.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	for _, s := range c.InvolvedSessions {
		fmt.Fprintf(&b, "  session %s (instance %s): hash=%s at %s\n",
			Cyan(s.SessionID), s.InstanceID, Dim(shortID(s.Hash)),
			s.Timestamp.Format("15:04:05"))
	}
	if c.IsBinary {
		fmt.Fprintf(&b, "  %s\n", Yellow("binary file: no automatic merge possible"))
	} else if c.MergeResult.CanAutoMerge {
		fmt.Fprintf(&b, "  %s\n", Green("auto-merge available"))
	} else {
		fmt.Fprintf(&b, "  %s (%d region(s))\n", Red("manual resolution required"), len(c.MergeResult.Conflicts))
	}
	return b.String()
}

// FormatResolution renders a one-line confirmation for `conflicts resolve`.
func FormatResolution(conflictID string, res coordinator.Resolution, newHash string) string {
	if newHash == "" {
		return fmt.Sprintf("%s %s via %s", Green("resolved"), Dim(shortID(conflictID)), res)
	}
	return fmt.Sprintf("%s %s via %s -> %s", Green("resolved"), Dim(shortID(conflictID)), res, Dim(shortID(newHash)))
}

// shortID truncates an identifier to 8 characters for compact display,
// leaving shorter identifiers untouched.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
