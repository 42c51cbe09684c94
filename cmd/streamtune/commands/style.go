package commands

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/streamtune/pkg/engine"
)

var (
	colorOK      = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C7A80")

	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(colorOK)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)

	styleSummary = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorOK).
			Padding(0, 1)
)

// printOK prints a line prefixed with a green check mark.
func printOK(format string, args ...interface{}) {
	fmt.Println(styleOK.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// printFailed prints a line prefixed with a red cross.
func printFailed(format string, args ...interface{}) {
	fmt.Println(styleError.Render("✗") + " " + fmt.Sprintf(format, args...))
}

// outcomeStyle colors a trial outcome.
func outcomeStyle(outcome engine.Outcome) lipgloss.Style {
	switch outcome {
	case engine.OutcomeOK:
		return styleOK
	case engine.OutcomeTimeout:
		return styleWarning
	default:
		return styleError
	}
}
