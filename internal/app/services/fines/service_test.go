package fines

import (
	"context"
	"testing"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/storage"
	"github.com/davonlibrary/circulation/internal/app/storage/memory"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
)

func seedLoan(t *testing.T, store *memory.Store, due time.Time) string {
	t.Helper()
	ctx := context.Background()

	var id string
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		l, err := tx.CreateLoan(ctx, loan.Loan{
			BorrowerID: "amy",
			CopyID:     "c1",
			TitleID:    "t1",
			LoanedAt:   due.AddDate(0, 0, -14),
			DueDate:    due,
			Status:     loan.StatusActive,
		})
		if err != nil {
			return err
		}
		id = l.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed loan: %v", err)
	}
	return id
}

func TestAccrueChargesWholeDays(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)

	var f fine.Fine
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = svc.Accrue(ctx, tx, loanID, due.AddDate(0, 0, 6), 50)
		return err
	})
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if f.AmountCents != 300 {
		t.Fatalf("expected 300 cents for 6 overdue days, got %d", f.AmountCents)
	}
	if f.Status != fine.StatusActive {
		t.Fatalf("expected ACTIVE fine, got %s", f.Status)
	}
	if f.BorrowerID != "amy" {
		t.Fatalf("fine should carry the loan's borrower, got %q", f.BorrowerID)
	}
}

func TestAccrueRestatesGrowingOverduePeriod(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)

	var first, second, third fine.Fine
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		if first, err = svc.Accrue(ctx, tx, loanID, due.AddDate(0, 0, 1), 50); err != nil {
			return err
		}
		if second, err = svc.Accrue(ctx, tx, loanID, due.AddDate(0, 0, 3), 50); err != nil {
			return err
		}
		third, err = svc.Accrue(ctx, tx, loanID, due.AddDate(0, 0, 3), 50)
		return err
	})
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if first.AmountCents != 50 {
		t.Fatalf("expected 50 cents after 1 overdue day, got %d", first.AmountCents)
	}
	if second.ID != first.ID {
		t.Fatalf("re-accrual must restate the existing fine, got %s and %s", first.ID, second.ID)
	}
	if second.AmountCents != 150 {
		t.Fatalf("expected amount restated to 150 after 3 overdue days, got %d", second.AmountCents)
	}
	if third.AmountCents != 150 {
		t.Fatalf("re-accrual at the same instant must not change the amount, got %d", third.AmountCents)
	}
}

func TestRestatementPreservesPartialPayment(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)

	var f fine.Fine
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		if f, err = svc.Accrue(ctx, tx, loanID, due.AddDate(0, 0, 2), 50); err != nil {
			return err
		}
		if f, err = svc.Pay(ctx, tx, f.ID, 50, "cash", "rcpt-3", due.AddDate(0, 0, 2)); err != nil {
			return err
		}
		f, err = svc.Accrue(ctx, tx, loanID, due.AddDate(0, 0, 4), 50)
		return err
	})
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if f.AmountCents != 200 {
		t.Fatalf("expected amount restated to 200, got %d", f.AmountCents)
	}
	if f.Status != fine.StatusPartiallyPaid {
		t.Fatalf("restatement must keep PARTIALLY_PAID, got %s", f.Status)
	}
	if f.OutstandingCents() != 150 {
		t.Fatalf("expected 150 outstanding after restatement, got %d", f.OutstandingCents())
	}
}

func TestAccrueRejectsLoanNotOverdue(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)

	err := store.Atomically(ctx, func(tx storage.Tx) error {
		_, err := svc.Accrue(ctx, tx, loanID, due.Add(-time.Hour), 50)
		return err
	})
	if !circerrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state for on-time loan, got %v", err)
	}
}

func TestPayPartialThenFull(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)
	now := due.AddDate(0, 0, 6)

	var f fine.Fine
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = svc.Accrue(ctx, tx, loanID, now, 50)
		return err
	})
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}

	err = store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = svc.Pay(ctx, tx, f.ID, 100, "cash", "rcpt-1", now)
		return err
	})
	if err != nil {
		t.Fatalf("partial Pay: %v", err)
	}
	if f.Status != fine.StatusPartiallyPaid {
		t.Fatalf("expected PARTIALLY_PAID, got %s", f.Status)
	}
	if f.OutstandingCents() != 200 {
		t.Fatalf("expected 200 outstanding, got %d", f.OutstandingCents())
	}

	err = store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = svc.Pay(ctx, tx, f.ID, 200, "card", "rcpt-2", now)
		return err
	})
	if err != nil {
		t.Fatalf("final Pay: %v", err)
	}
	if f.Status != fine.StatusPaid {
		t.Fatalf("expected PAID, got %s", f.Status)
	}
	if f.PaidAt.IsZero() {
		t.Fatal("PaidAt must be set on settlement")
	}
	if f.PaymentMethod != "card" || f.TransactionRef != "rcpt-2" {
		t.Fatalf("audit fields must reflect the most recent payment, got %q/%q",
			f.PaymentMethod, f.TransactionRef)
	}
}

func TestPayRejectsOverpaymentAndSettled(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)
	now := due.AddDate(0, 0, 2)

	var f fine.Fine
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = svc.Accrue(ctx, tx, loanID, now, 50)
		return err
	})
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}

	err = store.Atomically(ctx, func(tx storage.Tx) error {
		_, err := svc.Pay(ctx, tx, f.ID, f.AmountCents+1, "cash", "", now)
		return err
	})
	if !circerrors.IsMonetaryInvariant(err) {
		t.Fatalf("expected monetary invariant violation on overpayment, got %v", err)
	}

	err = store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := svc.Pay(ctx, tx, f.ID, f.AmountCents, "cash", "", now); err != nil {
			return err
		}
		_, err := svc.Pay(ctx, tx, f.ID, 1, "cash", "", now)
		if !circerrors.IsInvalidState(err) {
			t.Fatalf("expected invalid state paying a settled fine, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
}

func TestWaiveKeepsAmountForAudit(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)
	now := due.AddDate(0, 0, 4)

	var f fine.Fine
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		if f, err = svc.Accrue(ctx, tx, loanID, now, 50); err != nil {
			return err
		}
		if f, err = svc.Pay(ctx, tx, f.ID, 50, "cash", "", now); err != nil {
			return err
		}
		f, err = svc.Waive(ctx, tx, f.ID, "librarian-9", "damaged in flood", now)
		return err
	})
	if err != nil {
		t.Fatalf("Waive: %v", err)
	}
	if f.Status != fine.StatusWaived {
		t.Fatalf("expected WAIVED, got %s", f.Status)
	}
	if f.AmountCents != 200 {
		t.Fatalf("assessed amount must survive the waiver, got %d", f.AmountCents)
	}
	if f.WaivedAmountCents != 150 {
		t.Fatalf("expected 150 cents waived, got %d", f.WaivedAmountCents)
	}
	if f.OutstandingCents() != 0 {
		t.Fatalf("waived fine must carry no balance, got %d", f.OutstandingCents())
	}
	if f.WaivedBy != "librarian-9" || f.WaiverReason == "" || f.WaivedAt.IsZero() {
		t.Fatal("waiver audit fields must be recorded")
	}
}

func TestWaiveRequiresAuthorizer(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loanID := seedLoan(t, store, due)
	now := due.AddDate(0, 0, 4)

	err := store.Atomically(ctx, func(tx storage.Tx) error {
		f, err := svc.Accrue(ctx, tx, loanID, now, 50)
		if err != nil {
			return err
		}
		_, err = svc.Waive(ctx, tx, f.ID, "", "no signature", now)
		if !circerrors.IsInvalidState(err) {
			t.Fatalf("expected invalid state without authorizer, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
}

func TestAccrueCapsAtReturnInstant(t *testing.T) {
	store := memory.New()
	svc := New(nil, nil)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	returned := due.AddDate(0, 0, 3)

	var loanID string
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		l, err := tx.CreateLoan(ctx, loan.Loan{
			BorrowerID: "amy",
			CopyID:     "c1",
			TitleID:    "t1",
			LoanedAt:   due.AddDate(0, 0, -14),
			DueDate:    due,
			ReturnedAt: returned,
			Status:     loan.StatusReturned,
		})
		if err != nil {
			return err
		}
		loanID = l.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var f fine.Fine
	err = store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = svc.Accrue(ctx, tx, loanID, due.AddDate(0, 0, 30), 50)
		return err
	})
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if f.AmountCents != 150 {
		t.Fatalf("assessment must stop at the return instant: expected 150, got %d", f.AmountCents)
	}
}
