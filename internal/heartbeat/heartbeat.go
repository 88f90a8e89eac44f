// Package heartbeat keeps an agent's directory entry fresh by re-registering
// it on a cron schedule.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/directory"
)

// DefaultSchedule re-announces every five minutes.
const DefaultSchedule = "*/5 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Opts holds parameters for New.
type Opts struct {
	Directory directory.Directory
	Entry     directory.Entry
	// Schedule defaults to DefaultSchedule.
	Schedule string
	Logger   zerolog.Logger
}

// Heartbeat re-registers one directory entry.
type Heartbeat struct {
	dir      directory.Directory
	entry    directory.Entry
	schedule cron.Schedule
	expr     string
	log      zerolog.Logger
}

// New validates opts and parses the schedule.
func New(opts Opts) (*Heartbeat, error) {
	if opts.Directory == nil {
		return nil, fmt.Errorf("heartbeat: directory is required")
	}
	if err := opts.Entry.Validate(); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: parse schedule %q: %w", opts.Schedule, err)
	}
	return &Heartbeat{
		dir:      opts.Directory,
		entry:    opts.Entry,
		schedule: sched,
		expr:     opts.Schedule,
		log:      opts.Logger,
	}, nil
}

// Next returns the first beat after now.
func (h *Heartbeat) Next(now time.Time) time.Time {
	return h.schedule.Next(now)
}

// Beat registers the entry once.
func (h *Heartbeat) Beat(ctx context.Context) error {
	if err := h.dir.Register(ctx, h.entry); err != nil {
		return fmt.Errorf("heartbeat: register %s: %w", h.entry.AgentID, err)
	}
	h.log.Debug().Str("agent", h.entry.AgentID).Str("address", h.entry.Address).Msg("heartbeat: registered")
	return nil
}

// Run announces immediately, then on every scheduled tick until ctx is
// cancelled. Only the first announcement's failure is returned; later
// failures are logged and retried on the next tick.
func (h *Heartbeat) Run(ctx context.Context) error {
	if err := h.Beat(ctx); err != nil {
		return err
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(h.schedule, cron.FuncJob(func() {
		if err := h.Beat(ctx); err != nil {
			h.log.Warn().Err(err).Msg("heartbeat: beat failed")
		}
	}))
	c.Start()
	h.log.Info().Str("schedule", h.expr).Time("next", h.Next(time.Now())).Msg("heartbeat: started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
