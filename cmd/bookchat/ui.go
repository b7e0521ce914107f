package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/booking-core/core/chat"
	"github.com/koscakluka/booking-core/core/responses"
	"github.com/muesli/reflow/wordwrap"
)

var (
	youStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	choiceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type envelopeMsg chat.Envelope

type connectionLostMsg struct{ err error }

type line struct {
	speaker string
	text    string
	style   lipgloss.Style
}

type model struct {
	client   *client
	input    textinput.Model
	viewport viewport.Model
	lines    []line
	ready    bool
	waiting  bool
	width    int
}

func newModel(c *client) model {
	input := textinput.New()
	input.Placeholder = "Book a meeting tomorrow at 3pm..."
	input.Focus()
	input.CharLimit = 500

	return model{
		client: c,
		input:  input,
		lines: []line{{
			speaker: "assistant",
			text:    "Hi! I can book, move, or cancel events on your calendar. What would you like to do?",
			style:   assistantStyle,
		}},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

// listen waits for the next server envelope or a dropped connection.
func (m model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case envelope := <-m.client.envelopes:
			return envelopeMsg(envelope)
		case err := <-m.client.errs:
			return connectionLostMsg{err: err}
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.lines = append(m.lines, line{speaker: "you", text: text, style: youStyle})

			if text == "/reset" {
				if err := m.client.reset(); err != nil {
					return m.connectionLost(err)
				}
			} else if err := m.client.send(text); err != nil {
				return m.connectionLost(err)
			}
			m.waiting = true
			m.refreshViewport()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		inputHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.refreshViewport()
		return m, nil

	case envelopeMsg:
		m.waiting = false
		m.lines = append(m.lines, toLines(chat.Envelope(msg))...)
		m.refreshViewport()
		return m, m.listen()

	case connectionLostMsg:
		return m.connectionLost(msg.err)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) connectionLost(err error) (tea.Model, tea.Cmd) {
	m.lines = append(m.lines, line{
		speaker: "error",
		text:    fmt.Sprintf("connection lost: %v", err),
		style:   errorStyle,
	})
	m.waiting = false
	m.refreshViewport()
	return m, tea.Quit
}

// toLines renders one server envelope, expanding offered choices into
// their own numbered lines.
func toLines(envelope chat.Envelope) []line {
	switch envelope.Type {
	case chat.EnvelopeError:
		return []line{{speaker: "error", text: envelope.Text, style: errorStyle}}
	case chat.EnvelopeReset:
		return []line{{speaker: "assistant", text: "Okay, starting over. What would you like to do?", style: assistantStyle}}
	}

	lines := []line{{speaker: "assistant", text: envelope.Text, style: assistantStyle}}
	for _, choice := range extractChoices(envelope) {
		lines = append(lines, line{speaker: "", text: choice, style: choiceStyle})
	}
	return lines
}

// extractChoices pulls numbered options out of question and
// disambiguation payloads. The payload arrives as generic JSON.
func extractChoices(envelope chat.Envelope) []string {
	payload, ok := envelope.Payload.(map[string]any)
	if !ok {
		return nil
	}

	switch envelope.Type {
	case string(responses.KindQuestion):
		rawChoices, ok := payload["Choices"].([]any)
		if !ok {
			return nil
		}
		choices := make([]string, 0, len(rawChoices))
		for i, raw := range rawChoices {
			window, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			choices = append(choices, fmt.Sprintf("  %d) %s", i+1, formatWindow(window)))
		}
		return choices

	case string(responses.KindDisambiguation):
		rawCandidates, ok := payload["Candidates"].([]any)
		if !ok {
			return nil
		}
		choices := make([]string, 0, len(rawCandidates))
		for i, raw := range rawCandidates {
			event, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			title, _ := event["title"].(string)
			entry := fmt.Sprintf("  %d) %s", i+1, title)
			if window, ok := event["window"].(map[string]any); ok {
				entry += ", " + formatWindow(window)
			}
			choices = append(choices, entry)
		}
		return choices
	}
	return nil
}

func formatWindow(window map[string]any) string {
	start, _ := window["start"].(string)
	end, _ := window["end"].(string)
	startTime, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return start
	}
	endTime, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return start
	}
	return fmt.Sprintf("%s to %s",
		startTime.Format("Mon, Jan 2 15:04"), endTime.Format("15:04"))
}

func (m *model) refreshViewport() {
	if !m.ready {
		return
	}

	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}

	var rendered strings.Builder
	for _, l := range m.lines {
		text := l.text
		if l.speaker != "" {
			text = l.style.Render(l.speaker+":") + " " + text
		} else {
			text = l.style.Render(text)
		}
		rendered.WriteString(wordwrap.String(text, width))
		rendered.WriteString("\n")
	}
	if m.waiting {
		rendered.WriteString(helpStyle.Render("thinking..."))
		rendered.WriteString("\n")
	}

	m.viewport.SetContent(rendered.String())
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "connecting..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		m.input.View(),
		helpStyle.Render("enter: send • /reset: start over • esc: quit"),
	)
}
