package main

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	contentStyle = lipgloss.NewStyle().
			PaddingLeft(4)
)

// similarityStyle colors a score by how strong the match is.
func similarityStyle(sim float64) lipgloss.Style {
	switch {
	case sim >= 0.85:
		return countStyle
	case sim >= 0.7:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	default:
		return dateStyle
	}
}
