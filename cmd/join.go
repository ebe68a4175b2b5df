package cmd

import (
	"context"
	"fmt"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/call"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/roomid"
	"github.com/BioHazard786/huddle/internal/transport"
	"github.com/BioHazard786/huddle/internal/ui"
)

const participantAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var (
	flagName      string
	flagID        string
	flagAudioOnly bool
	flagAutoRetry bool
	flagJoinQR    bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room-id | invite-link]",
	Aliases: []string{"j"},
	Short:   "Join a study room, or start a new one",
	Long: `Join a study room by ID or invite link. Without an argument a new room is
created and its invite link printed.

Keys during the call:
  r  retry after "Connection Failed"
  v  turn the camera on
  q  hang up

Examples:
  huddle join
  huddle join sleepy-otter-calculus-pretzel
  huddle join https://huddle.studybuddy.app/groups/join/sleepy-otter-calculus-pretzel
  huddle join --audio-only --name "Sam" <link>`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to classmates")
	joinCmd.Flags().StringVar(&flagID, "id", "", "Participant ID (default: random)")
	joinCmd.Flags().BoolVarP(&flagAudioOnly, "audio-only", "a", false, "Join without a camera")
	joinCmd.Flags().BoolVar(&flagAutoRetry, "auto-retry", false, "Retry once automatically when the connection fails (env: AUTO_RETRY)")
	joinCmd.Flags().BoolVar(&flagJoinQR, "qr", false, "Print the invite link as a QR code")
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(ctx context.Context, args []string) error {
	cfg, err := loadConfig(config.Options{AutoRetry: flagAutoRetry})
	if err != nil {
		return err
	}
	logger := slog.Default()

	roomID := roomid.New()
	if len(args) == 1 {
		if roomID, err = config.ParseInviteLink(args[0]); err != nil {
			return err
		}
	}

	participantID := flagID
	if participantID == "" {
		if participantID, err = gonanoid.Generate(participantAlphabet, 10); err != nil {
			return fmt.Errorf("generate participant id: %w", err)
		}
	}

	fmt.Println(ui.RoomInfo{RoomID: roomID, InviteLink: cfg.InviteLink(roomID), QR: flagJoinQR}.View())

	sp := ui.NewConnectionSpinner("Connecting to the study room...")
	sp.Start()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		sp.Error("Could not reach the presence store")
		return err
	}
	defer st.Close()

	factory, err := transport.NewFactory(cfg, logger)
	if err != nil {
		sp.Error("Could not set up WebRTC")
		return err
	}

	session, err := call.NewSession(call.Options{
		Room:              roomID,
		ParticipantID:     participantID,
		DisplayName:       flagName,
		AudioOnly:         flagAudioOnly,
		AutoRetry:         cfg.AutoRetry,
		Origin:            cfg.Origin,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.StaleAfter,
		SendRetries:       cfg.SendRetries,
	}, call.Deps{
		Store:      st,
		Transports: factory.New,
		Media:      &media.Static{StreamID: participantID},
		Logger:     logger,
	})
	if err != nil {
		sp.Error("Could not create the session")
		return err
	}
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		sp.Error("Could not start the call")
		return err
	}
	sp.Stop()

	model := ui.NewCallModel(ctx, session, session.Events(), ui.CallInfo{
		Room:       roomID,
		Self:       participantID,
		InviteLink: session.InviteLink(),
		AudioOnly:  flagAudioOnly,
	})
	summary, err := ui.RunCall(model)
	if closeErr := session.Close(); closeErr != nil {
		logger.Warn("close session", "err", closeErr)
	}
	ui.RenderCallSummary(summary)
	return err
}
