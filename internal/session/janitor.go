package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Janitor purges expired entries on a cron schedule
type Janitor struct {
	purger Purger
	expr   string
	gron   *gronx.Gronx
	log    *slog.Logger
}

func NewJanitor(p Purger, expr string, logger *slog.Logger) (*Janitor, error) {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return nil, fmt.Errorf("invalid cleanup schedule %q", expr)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{purger: p, expr: expr, gron: gron, log: logger}, nil
}

// Run checks the schedule once a minute until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			j.Sweep(ctx, t)
		}
	}
}

// Sweep purges if the schedule is due at now. It returns how many entries
// were removed.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) int64 {
	due, err := j.gron.IsDue(j.expr, now.Truncate(time.Minute))
	if err != nil || !due {
		return 0
	}
	purged, err := j.purger.PurgeExpiredSessions(ctx, now)
	if err != nil {
		j.log.Error("Error purging expired sessions", "error", err)
		return 0
	}
	if purged > 0 {
		j.log.Info("Purged expired sessions", "count", purged)
	}
	return purged
}
