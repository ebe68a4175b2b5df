package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/skip2/go-qrcode"

	"github.com/BioHazard786/huddle/internal/call"
	"github.com/BioHazard786/huddle/internal/presence"
)

// ParticipantTable renders the active roster with each remote's link state.
type ParticipantTable struct {
	self   string
	roster presence.Roster
	links  map[string]call.State
}

func NewParticipantTable(self string, roster presence.Roster, links map[string]call.State) *ParticipantTable {
	return &ParticipantTable{self: self, roster: roster, links: links}
}

// Rows returns the table body in roster order. Exposed for tests.
func (t *ParticipantTable) Rows() [][]string {
	var rows [][]string
	for i, id := range t.roster.IDs() {
		rec := t.roster[id]
		media := IconMic + " audio"
		if !rec.AudioOnly {
			media = IconCamera + " video"
		}
		link := "you"
		switch {
		case t.links == nil:
			link = "present"
		case id != t.self:
			if st, ok := t.links[id]; ok {
				link = st.String()
			} else {
				link = "waiting"
			}
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), truncate(displayName(id, rec), 28), media, link})
	}
	return rows
}

func (t *ParticipantTable) View() string {
	rows := t.Rows()
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Participant", "Media", "Link").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case col == 3 && row >= 0 && row < len(rows):
				return tableCellStyle.Inherit(linkCellStyle(rows[row][3]))
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return tbl.Render()
}

func linkCellStyle(label string) lipgloss.Style {
	for _, st := range []call.State{call.StateNew, call.StateNegotiating, call.StateConnected,
		call.StateDisconnected, call.StateFailed, call.StateClosed} {
		if st.String() == label {
			return LinkStyle(st)
		}
	}
	return MutedStyle
}

func displayName(id string, rec presence.Record) string {
	if rec.Name == "" || rec.Name == id {
		return id
	}
	return rec.Name + " (" + id + ")"
}

// RoomInfo is the box printed before a call starts.
type RoomInfo struct {
	RoomID     string
	InviteLink string
	QR         bool
}

func (r RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	var b strings.Builder
	fmt.Fprintf(&b, "%s Study room ready\n\n%s Room:    %s\n%s Invite:  %s",
		IconBook,
		IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconLink, MutedStyle.Render(r.InviteLink),
	)
	if r.QR {
		if code, err := InviteQR(r.InviteLink); err == nil {
			fmt.Fprintf(&b, "\n\n%s Scan to join\n%s", IconQR, code)
		}
	}
	return boxStyle.Render(b.String())
}

// InviteQR renders an invite link as a terminal QR code.
func InviteQR(link string) (string, error) {
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
