package circulation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/davonlibrary/circulation/pkg/logger"
)

// Sweeper runs the periodic maintenance sweep on a cron schedule. It
// implements the system.Service lifecycle.
type Sweeper struct {
	service  *Service
	schedule string
	cron     *cron.Cron
	log      *logger.Logger
}

// NewSweeper creates a sweeper with a standard 5-field cron schedule.
func NewSweeper(service *Service, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	return &Sweeper{service: service, schedule: schedule, log: log}
}

func (s *Sweeper) Name() string { return "circulation-sweeper" }

// Start schedules the sweep. The first run happens on schedule, not at
// startup.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		s.runOnce(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", s.schedule).Info("sweeper started")
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) runOnce(ctx context.Context) {
	result, err := s.service.Sweep(ctx, time.Now())
	if err != nil {
		s.log.WithError(err).Error("sweep failed")
		return
	}
	s.log.WithField("expired_reservations", len(result.ExpiredReservations)).
		WithField("assessed_fines", len(result.AssessedFines)).
		WithField("overdue_loans", len(result.OverdueLoans)).
		Info("sweep completed")
}
