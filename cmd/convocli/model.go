package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/session"
	"github.com/mbeoliero/convo/transport"
)

// refreshMsg signals that the conversation state changed.
type refreshMsg struct{}

// connStateMsg carries a connection state transition.
type connStateMsg struct {
	state transport.State
}

// tickMsg drives periodic redraws for typing indicators.
type tickMsg time.Time

// errMsg surfaces a failed action in the status line.
type errMsg struct {
	err error
}

var (
	senderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	ownStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	deletedStyle  = lipgloss.NewStyle().Faint(true).Italic(true)
	pendingStyle  = lipgloss.NewStyle().Faint(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusBar     = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("7")).Padding(0, 1)
	offlineStatus = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")).Padding(0, 1)
)

// model is the Bubble Tea model for the conversation view.
type model struct {
	sess   *session.Session
	userId string

	viewport viewport.Model
	input    textinput.Model

	width  int
	height int
	ready  bool

	connState transport.State
	statusMsg string
}

func newModel(sess *session.Session, userId string) model {
	input := textinput.New()
	input.Placeholder = "Message, or /help"
	input.Focus()
	input.CharLimit = 4000

	return model{
		sess:      sess,
		userId:    userId,
		input:     input,
		connState: sess.ConnectionState(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 4
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			m.sess.Typing(false)
			return m, m.execute(line)
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
				m.sess.Typing(true)
			}
			return m, cmd
		}

	case refreshMsg:
		m.refresh()
		m.markVisibleRead()
		return m, nil

	case connStateMsg:
		m.connState = msg.state
		return m, nil

	case errMsg:
		m.statusMsg = msg.err.Error()
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// execute runs one composer line: a slash command or a plain send.
func (m *model) execute(line string) tea.Cmd {
	if !strings.HasPrefix(line, "/") {
		sess := m.sess
		return func() tea.Msg {
			if _, err := sess.Send(context.Background(), entity.SendRequest{Content: line}); err != nil {
				return errMsg{err: err}
			}
			return refreshMsg{}
		}
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	sess := m.sess

	run := func(fn func(ctx context.Context) error) tea.Cmd {
		return func() tea.Msg {
			if err := fn(context.Background()); err != nil {
				return errMsg{err: err}
			}
			return refreshMsg{}
		}
	}

	switch cmd {
	case "/help":
		m.statusMsg = "/edit id text · /delete id · /react id emoji · /pin id · /announce id · /promote user role · /demote user role · /kick user · /retry id · /discard id · /quit"
		return nil

	case "/quit":
		return tea.Quit

	case "/edit":
		if len(args) < 2 {
			m.statusMsg = "usage: /edit <message-id> <new content>"
			return nil
		}
		id, content := args[0], strings.Join(args[1:], " ")
		return run(func(ctx context.Context) error { return sess.EditMessage(ctx, id, content) })

	case "/delete":
		if len(args) != 1 {
			m.statusMsg = "usage: /delete <message-id>"
			return nil
		}
		return run(func(ctx context.Context) error { return sess.DeleteMessage(ctx, args[0]) })

	case "/react":
		if len(args) != 2 {
			m.statusMsg = "usage: /react <message-id> <emoji>"
			return nil
		}
		return run(func(ctx context.Context) error {
			_, err := sess.React(ctx, args[0], args[1])
			return err
		})

	case "/pin":
		if len(args) != 1 {
			m.statusMsg = "usage: /pin <message-id>"
			return nil
		}
		return run(func(ctx context.Context) error {
			_, err := sess.Pin(ctx, args[0])
			return err
		})

	case "/announce":
		if len(args) != 1 {
			m.statusMsg = "usage: /announce <message-id>"
			return nil
		}
		return run(func(ctx context.Context) error {
			_, err := sess.Announce(ctx, args[0])
			return err
		})

	case "/promote":
		if len(args) != 2 {
			m.statusMsg = "usage: /promote <user-id> <moderator|admin>"
			return nil
		}
		role, err := entity.ParseRole(args[1])
		if err != nil {
			m.statusMsg = err.Error()
			return nil
		}
		return run(func(ctx context.Context) error { return sess.Promote(ctx, args[0], role) })

	case "/demote":
		if len(args) != 2 {
			m.statusMsg = "usage: /demote <user-id> <member|moderator>"
			return nil
		}
		role, err := entity.ParseRole(args[1])
		if err != nil {
			m.statusMsg = err.Error()
			return nil
		}
		return run(func(ctx context.Context) error { return sess.Demote(ctx, args[0], role) })

	case "/kick":
		if len(args) != 1 {
			m.statusMsg = "usage: /kick <user-id>"
			return nil
		}
		return run(func(ctx context.Context) error { return sess.RemoveParticipant(ctx, args[0]) })

	case "/retry":
		if len(args) != 1 {
			m.statusMsg = "usage: /retry <local-id>"
			return nil
		}
		return run(func(ctx context.Context) error {
			_, err := sess.RetrySend(ctx, args[0])
			return err
		})

	case "/discard":
		if len(args) != 1 {
			m.statusMsg = "usage: /discard <local-id>"
			return nil
		}
		return run(func(ctx context.Context) error { return sess.DiscardSend(args[0]) })
	}

	m.statusMsg = fmt.Sprintf("unknown command %s", cmd)
	return nil
}

// refresh re-renders the transcript into the viewport.
func (m *model) refresh() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// markVisibleRead marks everything currently loaded as read.
func (m *model) markVisibleRead() {
	var ids []string
	for _, msg := range m.sess.Messages() {
		if msg.LocalId == "" && !msg.ReadByUser(m.userId) {
			ids = append(ids, msg.Id)
		}
	}
	if len(ids) == 0 {
		return
	}
	sess := m.sess
	go func() {
		sess.MarkRead(context.Background(), ids...)
	}()
}

func (m *model) renderMessages() string {
	conv := m.sess.Conversation()
	var b strings.Builder

	for _, msg := range m.sess.Messages() {
		b.WriteString(m.renderMessage(conv, msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *model) renderMessage(conv *entity.Conversation, msg *entity.Message) string {
	name := msg.SenderId
	if p := conv.Participant(msg.SenderId); p != nil && p.Nickname != "" {
		name = p.Nickname
	}
	style := senderStyle
	if msg.SenderId == m.userId {
		style = ownStyle
	}

	ts := timeStyle.Render(time.UnixMilli(msg.SentAt).Format("15:04"))
	head := fmt.Sprintf("%s %s", ts, style.Render(name))

	if msg.IsDeleted {
		return fmt.Sprintf("%s %s", head, deletedStyle.Render("message deleted"))
	}

	body := msg.Content
	var marks []string
	if msg.IsPinned {
		marks = append(marks, "pinned")
	}
	if msg.IsAnnouncement {
		marks = append(marks, "announcement")
	}
	if msg.EditedAt != nil {
		marks = append(marks, "edited")
	}
	if len(marks) > 0 {
		body += " " + metaStyle.Render("["+strings.Join(marks, ", ")+"]")
	}
	for emoji, count := range msg.ReactionCounts {
		body += " " + metaStyle.Render(fmt.Sprintf("%s %d", emoji, count))
	}

	switch msg.Status {
	case entity.SendStatusSending:
		body += " " + pendingStyle.Render("(sending "+msg.LocalId+")")
	case entity.SendStatusFailed:
		body += " " + failedStyle.Render("(failed, /retry "+msg.LocalId+")")
	}

	return fmt.Sprintf("%s %s", head, body)
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	status := m.renderStatus()
	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), status, m.input.View())
}

func (m model) renderStatus() string {
	conv := m.sess.Conversation()
	left := fmt.Sprintf("%s · %d participants", conv.Name, len(conv.Participants))

	if typing := m.sess.TypingUsers(); len(typing) > 0 {
		left += " · " + strings.Join(typing, ", ") + " typing"
	}
	if m.statusMsg != "" {
		left += " · " + m.statusMsg
	}

	if m.connState == transport.StateConnected {
		return statusBar.Render(left)
	}
	return offlineStatus.Render(fmt.Sprintf("%s · %s, using request mode", left, m.connState))
}
