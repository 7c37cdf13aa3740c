package cmd

import (
	"github.com/dukex/courier/pkg/scheduler"
	"github.com/dukex/courier/pkg/web"
)

// WebDependencies maps the runtime onto the HTTP routes. s may be nil for
// processes that run no cron.
func (r *Runtime) WebDependencies(s *scheduler.Scheduler) web.Dependencies {
	deps := web.Dependencies{
		Queue:       r.Queue,
		Stats:       r.Queue,
		DryRun:      r,
		SLO:         r.SLO,
		Deletes:     r.Deletes,
		Sender:      r.Gateway,
		Checkpoints: r.Checkpoints,
		Persistence: r.Persistence,
		Gatherer:    r.Registry,
	}

	if s != nil {
		deps.Scheduler = s
	}

	return deps
}
