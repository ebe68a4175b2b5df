package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/server"
	"github.com/BioHazard786/huddle/internal/store"
)

var (
	flagListen       string
	flagAbandonAfter time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the presence and signaling store server",
	Long: `Run the store server that huddle clients use with the default "server"
backend. It keeps state in memory, or in Redis with --store redis, and
exposes:

  GET  /ws                             store protocol over websocket
  POST /api/rooms                      allocate an unused room
  GET  /api/rooms/:roomId/presence     active participants
  GET  /groups/join/:roomId            invite landing
  GET  /metrics                        prometheus metrics
  GET  /health`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "addr", "l", "", "Listen address (env: LISTEN_ADDR)")
	serveCmd.Flags().DurationVar(&flagAbandonAfter, "abandon-after", 0, "Delete rooms nobody was seen in for this long (env: ABANDON_AFTER)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig(config.Options{ListenAddr: flagListen, AbandonAfter: flagAbandonAfter})
	if err != nil {
		return err
	}
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.Default()

	// The server is the store for its clients, so "server" means in-memory here.
	var st store.Store
	if cfg.StoreBackend == config.StoreServer {
		st = store.NewMemory()
	} else if st, err = openStore(ctx, cfg, logger); err != nil {
		return err
	}
	defer st.Close()

	return server.New(cfg, st, logger).ListenAndServe(ctx)
}
