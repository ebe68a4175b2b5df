package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/roomid"
	"github.com/BioHazard786/huddle/internal/ui"
)

var (
	flagInviteQR     bool
	flagInviteServer bool
)

var inviteCmd = &cobra.Command{
	Use:   "invite [room-id]",
	Short: "Print an invite link for a room",
	Long: `Print the invite link for a room. Without a room ID a fresh one is picked,
locally or, with --server, by the store server so it is not already in use.

Examples:
  huddle invite
  huddle invite --qr sleepy-otter-calculus-pretzel
  huddle invite --server`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printInvite(cmd.Context(), args)
	},
}

func init() {
	inviteCmd.Flags().BoolVar(&flagInviteQR, "qr", false, "Also print the link as a QR code")
	inviteCmd.Flags().BoolVar(&flagInviteServer, "server", false, "Ask the store server for an unused room ID")
	rootCmd.AddCommand(inviteCmd)
}

func printInvite(ctx context.Context, args []string) error {
	cfg, err := loadConfig(config.Options{})
	if err != nil {
		return err
	}

	var roomID string
	switch {
	case len(args) == 1:
		if roomID, err = config.ParseInviteLink(args[0]); err != nil {
			return err
		}
	case flagInviteServer:
		var info protocol.RoomInfo
		err := requests.URL(cfg.APIURL()).
			Path("/api/rooms").
			Method(http.MethodPost).
			CheckStatus(http.StatusCreated).
			ToJSON(&info).
			Fetch(ctx)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		roomID = info.RoomID
	default:
		roomID = roomid.New()
	}

	fmt.Println(ui.RoomInfo{RoomID: roomID, InviteLink: cfg.InviteLink(roomID), QR: flagInviteQR}.View())
	return nil
}
