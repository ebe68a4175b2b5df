package cmd

import (
	"context"
	"fmt"
	"net/url"

	"github.com/carlmjohnson/requests"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/presence"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/ui"
)

var peekCmd = &cobra.Command{
	Use:   "peek <room-id | invite-link>",
	Short: "Show who is in a room without joining it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return peekRoom(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(peekCmd)
}

func peekRoom(ctx context.Context, arg string) error {
	cfg, err := loadConfig(config.Options{})
	if err != nil {
		return err
	}
	roomID, err := config.ParseInviteLink(arg)
	if err != nil {
		return err
	}

	sp := ui.NewConnectionSpinner("Looking into the room...")
	sp.Start()
	var info protocol.RoomInfo
	err = requests.URL(cfg.APIURL()).
		Pathf("/api/rooms/%s/presence", url.PathEscape(roomID)).
		ToJSON(&info).
		Fetch(ctx)
	if err != nil {
		sp.Error("Could not read the room")
		return fmt.Errorf("peek %s: %w", roomID, err)
	}
	sp.Stop()

	roster := presence.Roster{}
	for _, p := range info.Participants {
		roster[p.ID] = presence.Record{Name: p.Name, AudioOnly: p.AudioOnly, LastSeen: p.LastSeen}
	}
	ui.PrintInfof("%s: %d in the room", info.RoomID, len(roster))
	fmt.Println(ui.NewParticipantTable("", roster, nil).View())
	return nil
}
