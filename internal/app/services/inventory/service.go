// Package inventory owns the availability state of physical copies and the
// derived counters on their titles. All mutations run inside a caller
// provided unit of work so copy state and title counters never drift apart.
package inventory

import (
	"context"

	"github.com/davonlibrary/circulation/internal/app/domain/catalog"
	"github.com/davonlibrary/circulation/internal/app/storage"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
	"github.com/davonlibrary/circulation/pkg/logger"
)

// Service applies the copy state machine.
type Service struct {
	log *logger.Logger
}

// New creates a configured inventory service.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("inventory")
	}
	return &Service{log: log}
}

// CheckOut transitions an AVAILABLE copy to CHECKED_OUT and decrements the
// title's available counter. Attempting to check out a copy in any other
// state is a caller error and leaves the counters untouched.
func (s *Service) CheckOut(ctx context.Context, tx storage.Tx, copyID string) (catalog.Copy, error) {
	const op = "inventory.CheckOut"

	c, err := tx.GetCopy(ctx, copyID)
	if err != nil {
		return catalog.Copy{}, err
	}
	if c.Status != catalog.CopyAvailable {
		return catalog.Copy{}, circerrors.InvalidState(op, "copy %s is %s, not available", copyID, c.Status)
	}

	c, err = tx.TransitionCopy(ctx, copyID, catalog.CopyAvailable, catalog.CopyCheckedOut)
	if err != nil {
		return catalog.Copy{}, err
	}
	if err := s.adjustAvailable(ctx, tx, c.TitleID, -1); err != nil {
		return catalog.Copy{}, err
	}
	return c, nil
}

// CheckIn transitions a CHECKED_OUT copy back to AVAILABLE and increments
// the title's available counter, clamped at the total.
func (s *Service) CheckIn(ctx context.Context, tx storage.Tx, copyID string) (catalog.Copy, error) {
	const op = "inventory.CheckIn"

	c, err := tx.GetCopy(ctx, copyID)
	if err != nil {
		return catalog.Copy{}, err
	}
	if c.Status != catalog.CopyCheckedOut {
		return catalog.Copy{}, circerrors.InvalidState(op, "copy %s is %s, not checked out", copyID, c.Status)
	}

	c, err = tx.TransitionCopy(ctx, copyID, catalog.CopyCheckedOut, catalog.CopyAvailable)
	if err != nil {
		return catalog.Copy{}, err
	}
	if err := s.adjustAvailable(ctx, tx, c.TitleID, +1); err != nil {
		return catalog.Copy{}, err
	}
	return c, nil
}

// SendToMaintenance pulls an AVAILABLE copy off the shelf and records the
// reason.
func (s *Service) SendToMaintenance(ctx context.Context, tx storage.Tx, copyID, reason string) (catalog.Copy, error) {
	return s.retire(ctx, tx, copyID, catalog.CopyMaintenance, reason)
}

// MarkDamaged pulls an AVAILABLE copy off the shelf as damaged. The copy
// stays out of circulation until explicitly restored.
func (s *Service) MarkDamaged(ctx context.Context, tx storage.Tx, copyID string) (catalog.Copy, error) {
	return s.retire(ctx, tx, copyID, catalog.CopyDamaged, "")
}

func (s *Service) retire(ctx context.Context, tx storage.Tx, copyID string, to catalog.CopyStatus, reason string) (catalog.Copy, error) {
	const op = "inventory.retire"

	c, err := tx.GetCopy(ctx, copyID)
	if err != nil {
		return catalog.Copy{}, err
	}
	if c.Status != catalog.CopyAvailable {
		return catalog.Copy{}, circerrors.InvalidState(op, "copy %s is %s, not available", copyID, c.Status)
	}

	c, err = tx.TransitionCopy(ctx, copyID, catalog.CopyAvailable, to)
	if err != nil {
		return catalog.Copy{}, err
	}
	if reason != "" {
		c.Notes = reason
		if c, err = tx.UpdateCopy(ctx, c); err != nil {
			return catalog.Copy{}, err
		}
	}
	if err := s.adjustAvailable(ctx, tx, c.TitleID, -1); err != nil {
		return catalog.Copy{}, err
	}
	s.log.WithField("copy_id", copyID).WithField("status", to).Info("copy taken out of circulation")
	return c, nil
}

// MarkLost marks a copy as lost. Allowed from AVAILABLE or CHECKED_OUT; the
// available counter drops only when the copy was on the shelf.
func (s *Service) MarkLost(ctx context.Context, tx storage.Tx, copyID string) (catalog.Copy, error) {
	const op = "inventory.MarkLost"

	c, err := tx.GetCopy(ctx, copyID)
	if err != nil {
		return catalog.Copy{}, err
	}
	if c.Status != catalog.CopyAvailable && c.Status != catalog.CopyCheckedOut {
		return catalog.Copy{}, circerrors.InvalidState(op, "copy %s is %s, cannot be marked lost", copyID, c.Status)
	}

	wasAvailable := c.Status == catalog.CopyAvailable
	c, err = tx.TransitionCopy(ctx, copyID, c.Status, catalog.CopyLost)
	if err != nil {
		return catalog.Copy{}, err
	}
	if wasAvailable {
		if err := s.adjustAvailable(ctx, tx, c.TitleID, -1); err != nil {
			return catalog.Copy{}, err
		}
	}
	s.log.WithField("copy_id", copyID).Warn("copy marked lost")
	return c, nil
}

// Restore returns a MAINTENANCE or DAMAGED copy to the shelf.
func (s *Service) Restore(ctx context.Context, tx storage.Tx, copyID string) (catalog.Copy, error) {
	const op = "inventory.Restore"

	c, err := tx.GetCopy(ctx, copyID)
	if err != nil {
		return catalog.Copy{}, err
	}
	if c.Status != catalog.CopyMaintenance && c.Status != catalog.CopyDamaged {
		return catalog.Copy{}, circerrors.InvalidState(op, "copy %s is %s, nothing to restore", copyID, c.Status)
	}

	c, err = tx.TransitionCopy(ctx, copyID, c.Status, catalog.CopyAvailable)
	if err != nil {
		return catalog.Copy{}, err
	}
	if err := s.adjustAvailable(ctx, tx, c.TitleID, +1); err != nil {
		return catalog.Copy{}, err
	}
	return c, nil
}

// SelectAvailableCopy picks the available copy of a title with the lowest
// copy identifier. The deterministic tie-break keeps behavior reproducible.
func (s *Service) SelectAvailableCopy(ctx context.Context, tx storage.Tx, titleID string) (catalog.Copy, error) {
	const op = "inventory.SelectAvailableCopy"

	copies, err := tx.ListCopiesByTitle(ctx, titleID)
	if err != nil {
		return catalog.Copy{}, err
	}
	for _, c := range copies {
		if c.Status == catalog.CopyAvailable {
			return c, nil
		}
	}
	return catalog.Copy{}, circerrors.NotFound(op, "no available copy of title %s", titleID)
}

// VerifyCounters recomputes a title's available count from copy states and
// reports the stored and actual values. The two must always agree.
func (s *Service) VerifyCounters(ctx context.Context, tx storage.Tx, titleID string) (stored, actual int, err error) {
	title, err := tx.GetTitle(ctx, titleID)
	if err != nil {
		return 0, 0, err
	}
	copies, err := tx.ListCopiesByTitle(ctx, titleID)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range copies {
		if c.OnShelf() {
			actual++
		}
	}
	if actual != title.AvailableCopies {
		s.log.WithField("title_id", titleID).
			WithField("stored", title.AvailableCopies).
			WithField("actual", actual).
			Error("available-copies counter drift detected")
	}
	return title.AvailableCopies, actual, nil
}

func (s *Service) adjustAvailable(ctx context.Context, tx storage.Tx, titleID string, delta int) error {
	const op = "inventory.adjustAvailable"

	title, err := tx.GetTitle(ctx, titleID)
	if err != nil {
		return err
	}
	next := title.AvailableCopies + delta
	if next < 0 {
		return circerrors.Conflict(op, "available count of title %s would drop below zero", titleID)
	}
	if next > title.TotalCopies {
		next = title.TotalCopies
	}
	title.AvailableCopies = next
	_, err = tx.UpdateTitle(ctx, title)
	return err
}
