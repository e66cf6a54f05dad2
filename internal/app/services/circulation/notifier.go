package circulation

import (
	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/domain/reservation"
	"github.com/davonlibrary/circulation/pkg/logger"
)

// Notifier receives outbound circulation events after they have committed.
// Implementations must not block; delivery is fire-and-forget and failures
// never affect the originating operation.
type Notifier interface {
	ReservationFulfilled(r reservation.Reservation, l loan.Loan)
	FineAssessed(f fine.Fine)
	LoanOverdue(l loan.Loan)
}

// LogNotifier writes notifications to the structured log. It is the default
// when no transport is wired.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("notifier")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) ReservationFulfilled(r reservation.Reservation, l loan.Loan) {
	n.log.WithField("reservation_id", r.ID).
		WithField("borrower_id", r.BorrowerID).
		WithField("loan_id", l.ID).
		Info("notify: reservation fulfilled")
}

func (n *LogNotifier) FineAssessed(f fine.Fine) {
	n.log.WithField("fine_id", f.ID).
		WithField("borrower_id", f.BorrowerID).
		WithField("amount_cents", f.AmountCents).
		Info("notify: fine assessed")
}

func (n *LogNotifier) LoanOverdue(l loan.Loan) {
	n.log.WithField("loan_id", l.ID).
		WithField("borrower_id", l.BorrowerID).
		WithField("due_date", l.DueDate).
		Warn("notify: loan overdue")
}
