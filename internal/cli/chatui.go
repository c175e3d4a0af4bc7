package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/nova/internal/client"
)

// Theme holds the color scheme for the chat display.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Command   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Command:   lipgloss.Color("#D7AF00"), // amber
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) commandStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Command)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// streamEvent is one message from the background stream goroutine.
type streamEvent struct {
	delta    string
	response *client.ChatResponse
	err      error
	done     bool
}

// chatModel is the bubbletea model for the interactive chat session.
type chatModel struct {
	client         *client.Client
	userID         string
	conversationID string

	input      textinput.Model
	theme      Theme
	transcript strings.Builder
	current    strings.Builder
	streaming  bool
	events     chan streamEvent
	quitting   bool
}

// newChatModel creates a new chat model.
func newChatModel(c *client.Client, userID string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Say something..."
	ti.Focus()

	return chatModel{
		client: c,
		userID: userID,
		input:  ti,
		theme:  defaultTheme,
	}
}

// Init returns the initial command.
func (m chatModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if m.streaming {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.transcript.WriteString(m.theme.userStyle().Render("You: ") + text + "\n")
			m.streaming = true
			m.current.Reset()
			m.events = make(chan streamEvent, 16)
			return m, tea.Batch(m.startStream(text), m.waitForEvent())
		}

	case streamEvent:
		if msg.err != nil {
			m.streaming = false
			m.transcript.WriteString(m.theme.errorStyle().Render("✗ "+msg.err.Error()) + "\n")
			return m, nil
		}
		if msg.done {
			m.streaming = false
			m.conversationID = msg.response.ConversationID
			m.transcript.WriteString(m.theme.assistantStyle().Render("Nova: ") + msg.response.Response + "\n")
			for _, c := range msg.response.Commands {
				if c.Message != "" {
					m.transcript.WriteString(m.theme.commandStyle().Render("→ "+c.Message) + "\n")
				}
			}
			m.current.Reset()
			return m, nil
		}
		m.current.WriteString(msg.delta)
		return m, m.waitForEvent()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the chat display.
func (m chatModel) View() tea.View {
	var b strings.Builder
	b.WriteString(m.transcript.String())

	if m.streaming {
		b.WriteString(m.theme.assistantStyle().Render("Nova: "))
		b.WriteString(m.current.String())
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString(m.theme.hintStyle().Render("Esc or Ctrl+C to quit"))
	b.WriteString("\n")
	return tea.NewView(b.String())
}

// startStream launches the streaming request in the background. Events arrive
// on the channel; waitForEvent relays them as bubbletea messages one at a time.
func (m chatModel) startStream(text string) tea.Cmd {
	events := m.events
	c := m.client
	req := client.ChatRequest{
		Message:        text,
		ConversationID: m.conversationID,
		UserID:         m.userID,
	}
	return func() tea.Msg {
		go func() {
			resp, err := c.ChatStream(context.Background(), req, func(delta string) error {
				events <- streamEvent{delta: delta}
				return nil
			})
			if err != nil {
				events <- streamEvent{err: err}
			} else {
				events <- streamEvent{response: resp, done: true}
			}
			close(events)
		}()
		return nil
	}
}

// waitForEvent blocks on the next stream event.
func (m chatModel) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return ev
	}
}

// runChatUI runs the interactive chat session.
func runChatUI(c *client.Client, userID string) error {
	p := tea.NewProgram(newChatModel(c, userID))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}

// chatRequest builds a request carrying the session's user id.
func chatRequest(message, conversationID string) client.ChatRequest {
	return client.ChatRequest{
		Message:        message,
		ConversationID: conversationID,
		UserID:         userID,
	}
}
