// Package output formats validity results for the terminal using lipgloss.
package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"lineage/api/internal/validity"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[validity.Status]lipgloss.Style{
		validity.StatusValid:           lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		validity.StatusSubConditione:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		validity.StatusDoubtfulEvent:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		validity.StatusDoubtfullyValid: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		validity.StatusInvalid:         lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// StatusBadge renders an effective status as a colored [status] tag.
func StatusBadge(s validity.Status) string {
	label := fmt.Sprintf("[%s]", s)
	style, ok := statusStyles[s]
	if !ok {
		return label
	}
	return style.Render(label)
}

// WarningBadge marks a roster entry with a status inheritance warning.
func WarningBadge() string {
	return warningStyle.Render("[warning]")
}

// Title renders a bold heading.
func Title(text string) string {
	return titleStyle.Render(text)
}

// Subtle renders secondary text.
func Subtle(text string) string {
	return subtleStyle.Render(text)
}

// Success renders a confirmation line.
func Success(format string, args ...any) string {
	return successStyle.Render(fmt.Sprintf(format, args...))
}

// Error renders an error line.
func Error(format string, args ...any) string {
	return errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...))
}

// FormatEntry renders one form entry as "#N kind [status] from Bishop".
func FormatEntry(index int, entry validity.Entry) string {
	record := entry.Record()
	parts := []string{
		Subtle(fmt.Sprintf("#%d", index+1)),
		string(entry.Kind),
		StatusBadge(validity.EffectiveStatus(&record)),
	}
	switch {
	case entry.BishopName != "":
		parts = append(parts, "from "+entry.BishopName)
	case entry.BishopID != "":
		parts = append(parts, "from "+entry.BishopID)
	}
	return strings.Join(parts, " ")
}

// FormatViolation renders a violation with the statuses its officiant could
// have conferred.
func FormatViolation(v validity.Violation) string {
	allowed := make([]string, 0, 5)
	for _, s := range v.Allowed.Slice() {
		allowed = append(allowed, string(s))
	}
	return errorStyle.Render(v.Message()) + " " + Subtle("allowed: "+strings.Join(allowed, ", "))
}
