// Package app wires the circulation engine together and manages its
// lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/davonlibrary/circulation/internal/app/metrics"
	circsvc "github.com/davonlibrary/circulation/internal/app/services/circulation"
	"github.com/davonlibrary/circulation/internal/app/services/fines"
	"github.com/davonlibrary/circulation/internal/app/services/inventory"
	"github.com/davonlibrary/circulation/internal/app/services/loans"
	"github.com/davonlibrary/circulation/internal/app/services/reservations"
	"github.com/davonlibrary/circulation/internal/app/storage"
	"github.com/davonlibrary/circulation/internal/app/storage/memory"
	"github.com/davonlibrary/circulation/internal/app/system"
	"github.com/davonlibrary/circulation/internal/config"
	"github.com/davonlibrary/circulation/pkg/logger"
)

// Options configures the assembled application. A nil Store defaults to the
// in-memory implementation and a nil Notifier logs notifications.
type Options struct {
	Store    storage.Circulation
	Notifier circsvc.Notifier
	Config   *config.Config
	Metrics  *metrics.Metrics
}

// Application ties the engine services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store       storage.Circulation
	Inventory   *inventory.Service
	Loans       *loans.Service
	Reservation *reservations.Service
	Fines       *fines.Service
	Circulation *circsvc.Service
	Metrics     *metrics.Metrics
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Store == nil {
		opts.Store = memory.New()
	}

	manager := system.NewManager()

	invService := inventory.New(log)
	loanService := loans.New(log)
	queueService := reservations.New(invService, loanService, log)

	policy, err := ratePolicy(opts.Config.Circulation)
	if err != nil {
		return nil, err
	}
	fineService := fines.New(policy, log)

	facade := circsvc.New(opts.Store, invService, loanService, queueService, fineService,
		opts.Notifier, opts.Metrics, lendingPolicy(opts.Config.Circulation), log)

	var sweeper system.Service = system.NoopService{ServiceName: "sweeper"}
	if opts.Config.Sweeper.Enabled {
		sweeper = circsvc.NewSweeper(facade, opts.Config.Sweeper.Schedule, log)
	}
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register sweeper: %w", err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Store:       opts.Store,
		Inventory:   invService,
		Loans:       loanService,
		Reservation: queueService,
		Fines:       fineService,
		Circulation: facade,
		Metrics:     opts.Metrics,
	}, nil
}

// Start launches background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts background services down in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

func lendingPolicy(c config.CirculationConfig) circsvc.Policy {
	return circsvc.Policy{
		LoanPeriodDays:     c.LoanPeriodDays,
		ExtensionDays:      c.ExtensionDays,
		MaxExtensions:      c.MaxExtensions,
		HoldPeriodDays:     c.HoldPeriodDays,
		DailyFineRateCents: c.DailyFineRateCents,
		AverageLoanDays:    c.AverageLoanDays,
	}
}

func ratePolicy(c config.CirculationConfig) (fines.RatePolicy, error) {
	switch c.FinePolicy {
	case "", "standard":
		return fines.StandardRatePolicy{}, nil
	case "grace":
		return fines.GraceRatePolicy{GraceDays: c.FineGraceDays}, nil
	case "weekend":
		return fines.WeekendRatePolicy{}, nil
	}
	return nil, fmt.Errorf("unknown fine policy %q", c.FinePolicy)
}
