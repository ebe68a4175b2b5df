package server

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/presence"
	"github.com/BioHazard786/huddle/internal/store"
)

const JanitorSchedule = "@every 1m"

// Janitor periodically deletes rooms nobody has been seen in for a while.
// Stale presence is harmless to clients, this only reclaims space.
type Janitor struct {
	store        store.Store
	abandonAfter time.Duration
	metrics      *Metrics
	now          func() time.Time
	log          *slog.Logger
	cron         *cron.Cron
}

func NewJanitor(s store.Store, abandonAfter time.Duration, m *Metrics, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:        s,
		abandonAfter: abandonAfter,
		metrics:      m,
		now:          time.Now,
		log:          logging.Component(logger, "janitor"),
	}
}

// Start runs Sweep on schedule until Stop is called.
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.log.Error("sweep failed", "err", err)
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep deletes every room without a presence record newer than
// abandonAfter and returns their ids.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	entries, err := j.store.List(ctx, store.RoomsPrefix())
	if err != nil {
		return nil, err
	}

	now := j.now()
	alive := make(map[string]bool)
	for _, e := range entries {
		room := store.RoomOf(e.Key)
		if _, seen := alive[room]; !seen {
			alive[room] = false
		}
		if !store.IsPresenceKey(e.Key) {
			continue
		}
		var rec presence.Record
		if err := store.Decode(e.Value, &rec); err != nil {
			continue
		}
		if now.Sub(rec.LastSeen) < j.abandonAfter {
			alive[room] = true
		}
	}

	var swept []string
	for room, ok := range alive {
		if ok || room == "" {
			continue
		}
		prefix, err := store.RoomPrefix(room)
		if err != nil {
			continue
		}
		if err := j.store.DeletePrefix(ctx, prefix); err != nil {
			return swept, err
		}
		swept = append(swept, room)
		j.metrics.Swept.Inc()
		j.log.Info("swept abandoned room", "room", room)
	}
	sort.Strings(swept)
	return swept, nil
}
