package tui

import (
	"chat-bridge/internal/app"

	"github.com/charmbracelet/lipgloss"
)

var (
	userLabel    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Render("you")
	pendingLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("you…")
	botLabel     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true).Render("bot")

	sessionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	buttonStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	taskStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))

	statusBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Background(lipgloss.Color("236"))
	inputStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)

	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	reconnectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func stateStyle(s app.ConnState) lipgloss.Style {
	switch s {
	case app.StateConnected:
		return connectedStyle
	case app.StateReconnecting, app.StateConnecting:
		return reconnectingStyle
	}
	return disconnectedStyle
}
