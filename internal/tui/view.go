package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorAssistant = lipgloss.Color("63")
	colorUser      = lipgloss.Color("205")
	colorMuted     = lipgloss.Color("240")
)

type styles struct {
	header    lipgloss.Style
	assistant lipgloss.Style
	user      lipgloss.Style
	system    lipgloss.Style
	label     lipgloss.Style
	input     lipgloss.Style
}

func newStyles() styles {
	bubble := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	return styles{
		header:    lipgloss.NewStyle().Bold(true).Foreground(colorAssistant),
		assistant: bubble.BorderForeground(colorAssistant),
		user:      bubble.BorderForeground(colorUser),
		system:    lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		label:     lipgloss.NewStyle().Bold(true),
		input:     bubble,
	}
}

func (m chatModel) View() string {
	header := m.styles.header.Render(m.opts.Label() + " · " + m.sessionID)
	input := m.styles.input.Width(max(1, m.input.Width+2)).Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), input, m.footerView())
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | PgUp/PgDn 滚动 | Ctrl+C 退出"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " " + m.opts.Label() + " is typing..."
	}
	gap := max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)
	return lipgloss.NewStyle().Width(m.width).Padding(0, 1).
		Render(left + strings.Repeat(" ", gap) + right)
}

func (m chatModel) renderChat() string {
	parts := make([]string, 0, len(m.entries))
	for i, e := range m.entries {
		content := e.content
		if m.stream.active() && m.stream.idx == i {
			content = m.stream.visible()
		}
		content = strings.TrimRight(content, "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		parts = append(parts, m.renderEntry(e.role, content))
	}
	return strings.Join(parts, "\n\n")
}

func (m chatModel) renderEntry(r role, content string) string {
	switch r {
	case roleUser:
		body := m.styles.user.MaxWidth(m.bubbleMaxWidth()).Render(m.wrap(content))
		return lipgloss.NewStyle().Width(m.viewWidth()).Align(lipgloss.Right).Render(body)
	case roleAssistant:
		md := content
		if m.renderer != nil {
			if out, err := m.renderer.Render(md); err == nil {
				md = strings.TrimRight(out, "\n")
			}
		}
		label := m.styles.label.Foreground(colorAssistant).Render(m.opts.Label())
		return label + "\n" + m.styles.assistant.MaxWidth(m.bubbleMaxWidth()).Render(m.wrap(md))
	default:
		return m.styles.system.Width(m.viewWidth()).Align(lipgloss.Center).Render(content)
	}
}

// wrap 把内容折到合适宽度：短消息保持紧凑，长消息不超过可用宽度。
func (m chatModel) wrap(s string) string {
	w := min(m.contentWidth(), max(10, widest(s)))
	return lipgloss.NewStyle().Width(w).Render(s)
}

func (m chatModel) viewWidth() int {
	if m.width <= 0 {
		return 80
	}
	return m.width
}

func (m chatModel) bubbleMaxWidth() int {
	return max(20, m.viewWidth()-4)
}

func (m chatModel) contentWidth() int {
	return max(20, m.viewWidth()-8)
}

func widest(s string) int {
	w := 0
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		w = max(w, lipgloss.Width(strings.TrimRight(line, " ")))
	}
	return w
}
