package inventory

import (
	"context"
	"testing"

	"github.com/davonlibrary/circulation/internal/app/domain/catalog"
	"github.com/davonlibrary/circulation/internal/app/storage"
	"github.com/davonlibrary/circulation/internal/app/storage/memory"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
)

func seedTitleWithCopies(t *testing.T, store *memory.Store, copies int) (string, []string) {
	t.Helper()
	ctx := context.Background()

	var titleID string
	copyIDs := make([]string, 0, copies)
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		title, err := tx.CreateTitle(ctx, catalog.Title{
			Name:            "The Left Hand of Darkness",
			TotalCopies:     copies,
			AvailableCopies: copies,
		})
		if err != nil {
			return err
		}
		titleID = title.ID
		for i := 0; i < copies; i++ {
			c, err := tx.CreateCopy(ctx, catalog.Copy{TitleID: titleID, Status: catalog.CopyAvailable})
			if err != nil {
				return err
			}
			copyIDs = append(copyIDs, c.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return titleID, copyIDs
}

func availableCount(t *testing.T, store *memory.Store, titleID string) int {
	t.Helper()
	ctx := context.Background()

	var n int
	err := store.View(ctx, func(tx storage.Tx) error {
		title, err := tx.GetTitle(ctx, titleID)
		if err != nil {
			return err
		}
		n = title.AvailableCopies
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	return n
}

func TestCheckOutAndCheckInMaintainCounters(t *testing.T) {
	store := memory.New()
	svc := New(nil)
	ctx := context.Background()
	titleID, copyIDs := seedTitleWithCopies(t, store, 2)

	err := store.Atomically(ctx, func(tx storage.Tx) error {
		c, err := svc.CheckOut(ctx, tx, copyIDs[0])
		if err != nil {
			return err
		}
		if c.Status != catalog.CopyCheckedOut {
			t.Fatalf("expected CHECKED_OUT, got %s", c.Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if got := availableCount(t, store, titleID); got != 1 {
		t.Fatalf("expected 1 available after checkout, got %d", got)
	}

	err = store.Atomically(ctx, func(tx storage.Tx) error {
		_, err := svc.CheckIn(ctx, tx, copyIDs[0])
		return err
	})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if got := availableCount(t, store, titleID); got != 2 {
		t.Fatalf("expected 2 available after checkin, got %d", got)
	}
}

func TestCheckOutRejectsUnavailableCopy(t *testing.T) {
	store := memory.New()
	svc := New(nil)
	ctx := context.Background()
	titleID, copyIDs := seedTitleWithCopies(t, store, 1)

	err := store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := svc.CheckOut(ctx, tx, copyIDs[0]); err != nil {
			return err
		}
		_, err := svc.CheckOut(ctx, tx, copyIDs[0])
		if !circerrors.IsInvalidState(err) {
			t.Fatalf("expected invalid state on double checkout, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
	if got := availableCount(t, store, titleID); got != 0 {
		t.Fatalf("counter must reflect exactly one checkout, got %d", got)
	}
}

func TestRetireAndRestore(t *testing.T) {
	store := memory.New()
	svc := New(nil)
	ctx := context.Background()
	titleID, copyIDs := seedTitleWithCopies(t, store, 1)

	err := store.Atomically(ctx, func(tx storage.Tx) error {
		c, err := svc.SendToMaintenance(ctx, tx, copyIDs[0], "loose spine")
		if err != nil {
			return err
		}
		if c.Status != catalog.CopyMaintenance {
			t.Fatalf("expected MAINTENANCE, got %s", c.Status)
		}
		if c.Notes != "loose spine" {
			t.Fatalf("maintenance reason must be recorded, got %q", c.Notes)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SendToMaintenance: %v", err)
	}
	if got := availableCount(t, store, titleID); got != 0 {
		t.Fatalf("expected 0 available while in maintenance, got %d", got)
	}

	err = store.Atomically(ctx, func(tx storage.Tx) error {
		c, err := svc.Restore(ctx, tx, copyIDs[0])
		if err != nil {
			return err
		}
		if c.Status != catalog.CopyAvailable {
			t.Fatalf("expected AVAILABLE after restore, got %s", c.Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := availableCount(t, store, titleID); got != 1 {
		t.Fatalf("expected 1 available after restore, got %d", got)
	}
}

func TestMarkLostFromShelfAndFromLoan(t *testing.T) {
	store := memory.New()
	svc := New(nil)
	ctx := context.Background()
	titleID, copyIDs := seedTitleWithCopies(t, store, 2)

	// Lost straight off the shelf drops the counter.
	err := store.Atomically(ctx, func(tx storage.Tx) error {
		_, err := svc.MarkLost(ctx, tx, copyIDs[0])
		return err
	})
	if err != nil {
		t.Fatalf("MarkLost: %v", err)
	}
	if got := availableCount(t, store, titleID); got != 1 {
		t.Fatalf("expected 1 available, got %d", got)
	}

	// Lost while checked out: the checkout already took the copy off the
	// shelf, so the counter must not move again.
	err = store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := svc.CheckOut(ctx, tx, copyIDs[1]); err != nil {
			return err
		}
		_, err := svc.MarkLost(ctx, tx, copyIDs[1])
		return err
	})
	if err != nil {
		t.Fatalf("MarkLost checked out: %v", err)
	}
	if got := availableCount(t, store, titleID); got != 0 {
		t.Fatalf("expected 0 available, got %d", got)
	}

	// LOST is terminal.
	err = store.Atomically(ctx, func(tx storage.Tx) error {
		_, err := svc.Restore(ctx, tx, copyIDs[0])
		if !circerrors.IsInvalidState(err) {
			t.Fatalf("expected invalid state restoring a lost copy, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
}

func TestSelectAvailableCopyIsDeterministic(t *testing.T) {
	store := memory.New()
	svc := New(nil)
	ctx := context.Background()
	titleID, copyIDs := seedTitleWithCopies(t, store, 3)

	err := store.Atomically(ctx, func(tx storage.Tx) error {
		c, err := svc.SelectAvailableCopy(ctx, tx, titleID)
		if err != nil {
			return err
		}
		if c.ID != copyIDs[0] {
			t.Fatalf("expected lowest copy ID %s, got %s", copyIDs[0], c.ID)
		}

		if _, err := svc.CheckOut(ctx, tx, c.ID); err != nil {
			return err
		}
		c, err = svc.SelectAvailableCopy(ctx, tx, titleID)
		if err != nil {
			return err
		}
		if c.ID != copyIDs[1] {
			t.Fatalf("expected next copy %s, got %s", copyIDs[1], c.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
}

func TestVerifyCountersAgree(t *testing.T) {
	store := memory.New()
	svc := New(nil)
	ctx := context.Background()
	titleID, copyIDs := seedTitleWithCopies(t, store, 3)

	err := store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := svc.CheckOut(ctx, tx, copyIDs[0]); err != nil {
			return err
		}
		stored, actual, err := svc.VerifyCounters(ctx, tx, titleID)
		if err != nil {
			return err
		}
		if stored != actual {
			t.Fatalf("counter drift: stored %d, actual %d", stored, actual)
		}
		if stored != 2 {
			t.Fatalf("expected 2 available, got %d", stored)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
}
