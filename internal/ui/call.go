package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/huddle/internal/call"
	"github.com/BioHazard786/huddle/internal/presence"
)

// Controller is the part of a call session the UI drives from key presses.
type Controller interface {
	Retry(ctx context.Context) error
	EnableVideo(ctx context.Context) error
}

// CallInfo is the static header of the call screen.
type CallInfo struct {
	Room       string
	Self       string
	InviteLink string
	AudioOnly  bool
}

type eventMsg call.Event

type eventsClosedMsg struct{}

type actionMsg struct {
	op  string
	err error
}

// CallModel is the bubbletea model of a running call.
type CallModel struct {
	ctx    context.Context
	ctrl   Controller
	events <-chan call.Event
	info   CallInfo

	session call.SessionState
	roster  presence.Roster
	links   map[string]call.State
	reached map[string]bool
	lastErr error
	notice  string
	video   bool
	busy    bool

	retries int
	errors  int
	started time.Time

	spinner  spinner.Model
	quitting bool
}

func NewCallModel(ctx context.Context, ctrl Controller, events <-chan call.Event, info CallInfo) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctx:     ctx,
		ctrl:    ctrl,
		events:  events,
		info:    info,
		roster:  presence.Roster{},
		links:   make(map[string]call.State),
		reached: make(map[string]bool),
		video:   !info.AudioOnly,
		started: time.Now(),
		spinner: s,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m *CallModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *CallModel) run(op string, fn func(context.Context) error) tea.Cmd {
	m.busy = true
	return func() tea.Msg {
		return actionMsg{op: op, err: fn(m.ctx)}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case eventMsg:
		m.apply(call.Event(msg))
		return m, m.waitForEvent()

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case actionMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.lastErr = msg.err
			m.errors++
			m.notice = fmt.Sprintf("%s failed", msg.op)
		case msg.op == "video":
			m.video = true
			m.notice = "Camera on"
		case msg.op == "retry":
			m.notice = "Rejoined the room"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit
	case "r":
		if m.busy {
			return nil
		}
		if m.session != call.SessionFailed {
			m.notice = "Nothing to retry"
			return nil
		}
		m.retries++
		m.notice = "Retrying..."
		return m.run("retry", m.ctrl.Retry)
	case "v":
		if m.busy {
			return nil
		}
		if m.video {
			m.notice = "Camera is already on"
			return nil
		}
		m.notice = "Turning camera on..."
		return m.run("video", m.ctrl.EnableVideo)
	}
	return nil
}

func (m *CallModel) apply(ev call.Event) {
	switch ev.Kind {
	case call.EventLinkState:
		if ev.State == call.StateClosed {
			delete(m.links, ev.Remote)
			return
		}
		m.links[ev.Remote] = ev.State
		if ev.State == call.StateConnected {
			m.reached[ev.Remote] = true
		}
	case call.EventRoster:
		m.roster = ev.Roster
	case call.EventSessionState:
		m.session = ev.Session
		if ev.Session == call.SessionActive {
			m.lastErr = nil
		}
		if ev.Session == call.SessionFailed && ev.Err != nil {
			m.lastErr = ev.Err
		}
	case call.EventError:
		m.lastErr = ev.Err
		m.errors++
	}
}

func (m *CallModel) connected() int {
	n := 0
	for _, st := range m.links {
		if st == call.StateConnected {
			n++
		}
	}
	return n
}

func (m *CallModel) status() string {
	switch m.session {
	case call.SessionFailed:
		return ErrorStyle.Render(IconError+" Connection Failed") + MutedStyle.Render("  press r to retry")
	case call.SessionClosed:
		return MutedStyle.Render(IconHangup + " Call ended")
	case call.SessionIdle:
		return m.spinner.View() + " Joining..."
	}
	n := m.connected()
	switch {
	case n > 0:
		return SuccessStyle.Render(fmt.Sprintf("%s In call with %d classmate%s", IconShake, n, plural(n)))
	case len(m.roster) > 1:
		return m.spinner.View() + " Connecting to classmates..."
	default:
		return m.spinner.View() + " Waiting for classmates to join..."
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Study Buddy  %s", IconBook, m.info.Room)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n\n", IconLink, MutedStyle.Render(m.info.InviteLink))
	b.WriteString(m.status())
	b.WriteString("\n\n")
	b.WriteString(NewParticipantTable(m.info.Self, m.roster, m.links).View())
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(m.notice))
	}
	if m.lastErr != nil {
		b.WriteString("\n" + MutedStyle.Render("last error: "+m.lastErr.Error()))
	}

	b.WriteString("\n" + FooterStyle.Render("r retry • v camera • q hang up"))
	return b.String()
}

// Summary reports what happened during the call.
func (m *CallModel) Summary() CallSummary {
	ended := "hung up"
	switch m.session {
	case call.SessionFailed:
		ended = "connection failed"
	case call.SessionClosed:
		ended = "session closed"
	}
	return CallSummary{
		Room:     m.info.Room,
		Duration: time.Since(m.started),
		Peers:    len(m.reached),
		Retries:  m.retries,
		Errors:   m.errors,
		Ended:    ended,
	}
}

// RunCall shows the call screen until the user hangs up, the session's
// event stream ends, or ctx is cancelled.
func RunCall(m *CallModel) (CallSummary, error) {
	p := tea.NewProgram(m, tea.WithContext(m.ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return m.Summary(), err
	}
	return m.Summary(), nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
