package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/comigor/chatproxy/internal/logger"
)

// Janitor periodically sweeps idle sessions out of a registry.
type Janitor struct {
	cron *cron.Cron
}

// StartJanitor schedules Sweep(ttl) on the given cron spec ("@every 5m",
// "*/10 * * * *"). It returns nil, nil when ttl is not positive.
func StartJanitor(r *Registry, schedule string, ttl time.Duration) (*Janitor, error) {
	if ttl <= 0 {
		return nil, nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(schedule, func() { r.Sweep(ttl) }); err != nil {
		return nil, fmt.Errorf("session: invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	logger.L.Info("session janitor started", "schedule", schedule, "idle_ttl", ttl.String())
	return &Janitor{cron: c}, nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j == nil {
		return
	}
	<-j.cron.Stop().Done()
}
