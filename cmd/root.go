package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/BioHazard786/huddle/internal/version"
)

var (
	flagDomain   string
	flagOrigin   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagStore    string
	flagRedisURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Group study calls over WebRTC, straight from the terminal",
	Long: `Huddle joins Study Buddy group calls from the command line. Participants
find each other through a shared presence store, exchange offers and ICE
candidates through per-participant inboxes, and then talk peer to peer.

Start a room with "huddle join", share the invite link, and anyone with the
link can join with "huddle join <link>".`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagDomain, "domain", "d", "", "Store server domain (env: DOMAIN)")
	pf.StringVar(&flagOrigin, "origin", "", "Origin used for invite links (env: ORIGIN)")
	pf.StringVar(&flagSTUN, "stun", "", "STUN server URL (env: STUN_SERVER)")
	pf.StringVar(&flagTURN, "turn", "", "TURN server URL (env: TURN_SERVER)")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env: TURN_USERNAME)")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env: TURN_PASSWORD)")
	pf.BoolVar(&flagRelay, "relay", false, "Force traffic through the TURN server (env: FORCE_RELAY)")
	pf.StringVar(&flagStore, "store", "", "Presence store backend: server, redis or memory (env: STORE)")
	pf.StringVar(&flagRedisURL, "redis-url", "", "Redis URL for the redis backend (env: REDIS_URL)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Interrupts cancel the context so an active call can leave the room cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
