package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/domain/reservation"
	"github.com/davonlibrary/circulation/internal/app/services/fines"
	"github.com/davonlibrary/circulation/internal/app/services/inventory"
	"github.com/davonlibrary/circulation/internal/app/services/loans"
	"github.com/davonlibrary/circulation/internal/app/services/reservations"
	"github.com/davonlibrary/circulation/internal/app/storage/memory"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
)

type recordingNotifier struct {
	mu        sync.Mutex
	fulfilled []reservation.Reservation
	assessed  []fine.Fine
	overdue   []loan.Loan
}

func (n *recordingNotifier) ReservationFulfilled(r reservation.Reservation, _ loan.Loan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fulfilled = append(n.fulfilled, r)
}

func (n *recordingNotifier) FineAssessed(f fine.Fine) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assessed = append(n.assessed, f)
}

func (n *recordingNotifier) LoanOverdue(l loan.Loan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overdue = append(n.overdue, l)
}

var testPolicy = Policy{
	LoanPeriodDays:     14,
	ExtensionDays:      14,
	MaxExtensions:      2,
	HoldPeriodDays:     7,
	DailyFineRateCents: 50,
	AverageLoanDays:    14,
}

func newFacade(t *testing.T, at time.Time) (*Service, *memory.Store, *recordingNotifier) {
	t.Helper()
	store := memory.New()
	notifier := &recordingNotifier{}
	inv := inventory.New(nil)
	ledger := loans.New(nil)
	queue := reservations.New(inv, ledger, nil)
	engine := fines.New(nil, nil)
	svc := New(store, inv, ledger, queue, engine, notifier, nil, testPolicy, nil).
		WithClock(func() time.Time { return at })
	return svc, store, notifier
}

func seedTitle(t *testing.T, svc *Service, copies int) string {
	t.Helper()
	ctx := context.Background()

	title, err := svc.RegisterTitle(ctx, "A Wizard of Earthsea", "Ursula K. Le Guin", "978-0")
	if err != nil {
		t.Fatalf("RegisterTitle: %v", err)
	}
	for i := 0; i < copies; i++ {
		if _, err := svc.AddCopy(ctx, title.ID, "main", "", ""); err != nil {
			t.Fatalf("AddCopy: %v", err)
		}
	}
	return title.ID
}

func TestBorrowLendsAvailableCopy(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, now)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 2)

	result, err := svc.Borrow(ctx, "amy", titleID)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if result.Loan == nil || result.Reservation != nil {
		t.Fatalf("expected a loan, got %+v", result)
	}
	if want := now.AddDate(0, 0, 14); !result.Loan.DueDate.Equal(want) {
		t.Fatalf("expected due date %v, got %v", want, result.Loan.DueDate)
	}

	title, err := svc.Availability(ctx, titleID)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if title.AvailableCopies != 1 {
		t.Fatalf("expected 1 available after borrow, got %d", title.AvailableCopies)
	}
}

func TestBorrowQueuesWhenNoCopyFree(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, now)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	if _, err := svc.Borrow(ctx, "amy", titleID); err != nil {
		t.Fatalf("first Borrow: %v", err)
	}

	result, err := svc.Borrow(ctx, "ben", titleID)
	if err != nil {
		t.Fatalf("second Borrow: %v", err)
	}
	if result.Reservation == nil || result.Loan != nil {
		t.Fatalf("expected a reservation fallback, got %+v", result)
	}
	if result.Reservation.QueuePosition != 1 {
		t.Fatalf("expected queue position 1, got %d", result.Reservation.QueuePosition)
	}
	if want := now.AddDate(0, 0, 7); !result.Reservation.ExpiryDate.Equal(want) {
		t.Fatalf("expected hold expiry %v, got %v", want, result.Reservation.ExpiryDate)
	}
}

func TestBorrowUnknownTitle(t *testing.T) {
	svc, _, _ := newFacade(t, time.Now().UTC())

	_, err := svc.Borrow(context.Background(), "amy", "missing")
	if !circerrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLateReturnAssessesFineAndFulfillsQueue(t *testing.T) {
	borrowedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, notifier := newFacade(t, borrowedAt)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	borrow, err := svc.Borrow(ctx, "amy", titleID)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	// Ben joins the queue on day 15, inside his 7-day hold window when the
	// copy finally comes back.
	svc.WithClock(func() time.Time { return borrowedAt.AddDate(0, 0, 15) })
	if _, err := svc.Reserve(ctx, "ben", titleID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Six days late.
	returnedAt := borrowedAt.AddDate(0, 0, 20)
	svc.WithClock(func() time.Time { return returnedAt })

	result, err := svc.Return(ctx, borrow.Loan.ID)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if result.DaysOverdue != 6 {
		t.Fatalf("expected 6 days overdue, got %d", result.DaysOverdue)
	}
	if result.Fine == nil || result.Fine.AmountCents != 300 {
		t.Fatalf("expected a 300-cent fine, got %+v", result.Fine)
	}
	if result.Fulfilled == nil || result.Fulfilled.BorrowerID != "ben" {
		t.Fatalf("expected ben's reservation fulfilled, got %+v", result.Fulfilled)
	}
	if result.NextLoan == nil || result.NextLoan.BorrowerID != "ben" {
		t.Fatalf("expected a new loan for ben, got %+v", result.NextLoan)
	}

	// The copy went straight to ben, never back to the shelf.
	title, err := svc.Availability(ctx, titleID)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if title.AvailableCopies != 0 {
		t.Fatalf("expected 0 available, got %d", title.AvailableCopies)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.assessed) != 1 || len(notifier.fulfilled) != 1 {
		t.Fatalf("expected one fine and one fulfillment notification, got %d and %d",
			len(notifier.assessed), len(notifier.fulfilled))
	}
}

func TestOnTimeReturnLeavesNoFine(t *testing.T) {
	borrowedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, borrowedAt)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	borrow, err := svc.Borrow(ctx, "amy", titleID)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	svc.WithClock(func() time.Time { return borrowedAt.AddDate(0, 0, 10) })
	result, err := svc.Return(ctx, borrow.Loan.ID)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if result.Fine != nil || result.DaysOverdue != 0 {
		t.Fatalf("on-time return must not assess a fine, got %+v", result)
	}

	title, err := svc.Availability(ctx, titleID)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if title.AvailableCopies != 1 {
		t.Fatalf("expected copy back on the shelf, got %d available", title.AvailableCopies)
	}
}

func TestDoubleReturnFailsWithoutSideEffects(t *testing.T) {
	borrowedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, borrowedAt)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	borrow, err := svc.Borrow(ctx, "amy", titleID)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if _, err := svc.Return(ctx, borrow.Loan.ID); err != nil {
		t.Fatalf("first Return: %v", err)
	}

	_, err = svc.Return(ctx, borrow.Loan.ID)
	if !circerrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state on double return, got %v", err)
	}

	title, err := svc.Availability(ctx, titleID)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if title.AvailableCopies != 1 {
		t.Fatalf("failed second return must not move the counter, got %d", title.AvailableCopies)
	}
}

func TestRacingBorrowsForLastCopy(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, now)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	results := make(chan BorrowResult, 2)
	var wg sync.WaitGroup
	for _, borrower := range []string{"amy", "ben"} {
		wg.Add(1)
		go func(b string) {
			defer wg.Done()
			r, err := svc.Borrow(ctx, b, titleID)
			if err != nil {
				t.Errorf("Borrow %s: %v", b, err)
				return
			}
			results <- r
		}(borrower)
	}
	wg.Wait()
	close(results)

	var loansWon, reservationsWon int
	for r := range results {
		if r.Loan != nil {
			loansWon++
		}
		if r.Reservation != nil {
			reservationsWon++
		}
	}
	if loansWon != 1 || reservationsWon != 1 {
		t.Fatalf("exactly one borrower gets the copy: %d loans, %d reservations", loansWon, reservationsWon)
	}
}

func TestSweepExpiresReservationsAndAccruesFines(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, notifier := newFacade(t, start)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	if _, err := svc.Borrow(ctx, "amy", titleID); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if _, err := svc.Reserve(ctx, "ben", titleID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// 20 days on: the loan is 6 days overdue, the 7-day hold has lapsed.
	sweepAt := start.AddDate(0, 0, 20)
	result, err := svc.Sweep(ctx, sweepAt)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(result.ExpiredReservations) != 1 {
		t.Fatalf("expected 1 expired reservation, got %d", len(result.ExpiredReservations))
	}
	if len(result.AssessedFines) != 1 || result.AssessedFines[0].AmountCents != 300 {
		t.Fatalf("expected one 300-cent fine, got %+v", result.AssessedFines)
	}
	if len(result.OverdueLoans) != 1 {
		t.Fatalf("expected 1 overdue loan, got %d", len(result.OverdueLoans))
	}

	// A repeat sweep at the same instant finds the same overdue loan but
	// assesses nothing new.
	result, err = svc.Sweep(ctx, sweepAt)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(result.AssessedFines) != 0 || len(result.ExpiredReservations) != 0 {
		t.Fatalf("repeat sweep must be idempotent, got %+v", result)
	}

	// A day later the open loan is 7 days overdue and the fine tracks it.
	result, err = svc.Sweep(ctx, sweepAt.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("third Sweep: %v", err)
	}
	if len(result.AssessedFines) != 1 || result.AssessedFines[0].AmountCents != 350 {
		t.Fatalf("expected the fine restated to 350 cents, got %+v", result.AssessedFines)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.overdue) != 3 {
		t.Fatalf("expected overdue notices from all three sweeps, got %d", len(notifier.overdue))
	}
}

func TestExtendAndLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, now)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	borrow, err := svc.Borrow(ctx, "amy", titleID)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	l, err := svc.Extend(ctx, borrow.Loan.ID)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if want := now.AddDate(0, 0, 28); !l.DueDate.Equal(want) {
		t.Fatalf("expected due %v, got %v", want, l.DueDate)
	}
	if _, err := svc.Extend(ctx, borrow.Loan.ID); err != nil {
		t.Fatalf("second Extend: %v", err)
	}
	if _, err := svc.Extend(ctx, borrow.Loan.ID); !circerrors.IsLimitExceeded(err) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
}

func TestPayAndWaiveThroughFacade(t *testing.T) {
	borrowedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, borrowedAt)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	borrow, err := svc.Borrow(ctx, "amy", titleID)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	svc.WithClock(func() time.Time { return borrowedAt.AddDate(0, 0, 18) })
	result, err := svc.Return(ctx, borrow.Loan.ID)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if result.Fine == nil {
		t.Fatal("expected a fine on the late return")
	}

	f, err := svc.PayFine(ctx, result.Fine.ID, 100, "cash", "rcpt-7")
	if err != nil {
		t.Fatalf("PayFine: %v", err)
	}
	if f.Status != fine.StatusPartiallyPaid {
		t.Fatalf("expected PARTIALLY_PAID, got %s", f.Status)
	}

	f, err = svc.WaiveFine(ctx, f.ID, "librarian-2", "first offense")
	if err != nil {
		t.Fatalf("WaiveFine: %v", err)
	}
	if f.Status != fine.StatusWaived || f.OutstandingCents() != 0 {
		t.Fatalf("expected settled waived fine, got %+v", f)
	}

	acct, err := svc.Account(ctx, "amy")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.OutstandingCents != 0 {
		t.Fatalf("expected zero balance after waiver, got %d", acct.OutstandingCents)
	}
	if len(acct.Loans) != 1 || len(acct.Fines) != 1 {
		t.Fatalf("account must list history, got %d loans and %d fines", len(acct.Loans), len(acct.Fines))
	}
}

func TestExtendReservationAndEstimatedWait(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, now)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	if _, err := svc.Borrow(ctx, "amy", titleID); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	res, err := svc.Reserve(ctx, "ben", titleID)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Reserve(ctx, "cam", titleID); err != nil {
		t.Fatalf("Reserve cam: %v", err)
	}

	extended, err := svc.ExtendReservation(ctx, res.ID, 3)
	if err != nil {
		t.Fatalf("ExtendReservation: %v", err)
	}
	if want := now.AddDate(0, 0, 10); !extended.ExpiryDate.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, extended.ExpiryDate)
	}
	if _, err := svc.ExtendReservation(ctx, res.ID, 0); !circerrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state for zero days, got %v", err)
	}

	// Head of a one-copy queue waits nothing; second in line waits one
	// average loan.
	days, err := svc.EstimatedWait(ctx, res.ID)
	if err != nil {
		t.Fatalf("EstimatedWait: %v", err)
	}
	if days != 0 {
		t.Fatalf("expected 0 days for the head, got %d", days)
	}
	cam, err := svc.Account(ctx, "cam")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	days, err = svc.EstimatedWait(ctx, cam.Reservations[0].ID)
	if err != nil {
		t.Fatalf("EstimatedWait: %v", err)
	}
	if days != 14 {
		t.Fatalf("expected 14 days for position 2, got %d", days)
	}
}

func TestReportLostClosesLoanAndRetiresCopy(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _, _ := newFacade(t, now)
	ctx := context.Background()
	titleID := seedTitle(t, svc, 1)

	borrow, err := svc.Borrow(ctx, "amy", titleID)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	l, err := svc.ReportLost(ctx, borrow.Loan.ID, "left on a train")
	if err != nil {
		t.Fatalf("ReportLost: %v", err)
	}
	if l.Status != loan.StatusLost {
		t.Fatalf("expected LOST loan, got %s", l.Status)
	}

	title, err := svc.Availability(ctx, titleID)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if title.AvailableCopies != 0 {
		t.Fatalf("lost copy must not return to the pool, got %d available", title.AvailableCopies)
	}
}
