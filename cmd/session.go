package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/store"
	"github.com/BioHazard786/huddle/internal/store/redisstore"
	"github.com/BioHazard786/huddle/internal/store/remote"
)

// loadConfig merges the persistent flags into opts and loads the config.
func loadConfig(opts config.Options) (*config.Config, error) {
	opts.Domain = flagDomain
	opts.Origin = flagOrigin
	opts.STUNServer = flagSTUN
	opts.TURNServer = flagTURN
	opts.TURNUser = flagTURNUser
	opts.TURNPass = flagTURNPass
	opts.ForceRelay = flagRelay
	opts.StoreBackend = flagStore
	opts.RedisURL = flagRedisURL

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore connects to the presence and relay store the config selects.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreRedis:
		s, err := redisstore.Open(ctx, cfg.RedisURL, redisstore.WithLogger(logger))
		if err != nil {
			return nil, callerr.Wrap(callerr.KindStore, "open redis", err, cfg.RedisURL)
		}
		return s, nil
	default:
		s, err := remote.Dial(ctx, cfg.WebSocketURL, logger)
		if err != nil {
			return nil, callerr.Wrap(callerr.KindStore, "connect to server", err, cfg.WebSocketURL)
		}
		return s, nil
	}
}
