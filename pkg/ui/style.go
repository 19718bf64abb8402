package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorBlue      = lipgloss.Color("57")
	colorGreen     = lipgloss.Color("42")
	colorRed       = lipgloss.Color("196")
)

var (
	ErrorStyle  = lipgloss.NewStyle().Foreground(colorRed)
	BaseStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray)
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	OnStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	HelpStyle   = lipgloss.NewStyle().Faint(true)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

// NewTableStyles returns the default table styles with our selection colours.
func NewTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.Foreground(colorLightGray).Background(colorBlue).Bold(false)
	return styles
}
