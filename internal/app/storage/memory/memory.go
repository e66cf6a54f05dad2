// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development. Transactions run against a clone of the store state
// which is swapped in only on success, so a failing unit of work leaves no
// partial mutations behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/catalog"
	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/domain/reservation"
	"github.com/davonlibrary/circulation/internal/app/storage"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
)

type state struct {
	titles       map[string]catalog.Title
	copies       map[string]catalog.Copy
	loans        map[string]loan.Loan
	reservations map[string]reservation.Reservation
	fines        map[string]fine.Fine
}

func newState() state {
	return state{
		titles:       make(map[string]catalog.Title),
		copies:       make(map[string]catalog.Copy),
		loans:        make(map[string]loan.Loan),
		reservations: make(map[string]reservation.Reservation),
		fines:        make(map[string]fine.Fine),
	}
}

func (s state) clone() state {
	dst := state{
		titles:       make(map[string]catalog.Title, len(s.titles)),
		copies:       make(map[string]catalog.Copy, len(s.copies)),
		loans:        make(map[string]loan.Loan, len(s.loans)),
		reservations: make(map[string]reservation.Reservation, len(s.reservations)),
		fines:        make(map[string]fine.Fine, len(s.fines)),
	}
	for k, v := range s.titles {
		dst.titles[k] = v
	}
	for k, v := range s.copies {
		dst.copies[k] = v
	}
	for k, v := range s.loans {
		dst.loans[k] = v
	}
	for k, v := range s.reservations {
		dst.reservations[k] = v
	}
	for k, v := range s.fines {
		dst.fines[k] = v
	}
	return dst
}

// Store is the in-memory backend.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	nextSeq int64
	state   state
}

var _ storage.Circulation = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{nextID: 1, nextSeq: 1, state: newState()}
}

// Atomically runs fn against a cloned state and swaps it in on success. The
// store mutex serializes transactions, so queue renumbering and conditional
// copy transitions never interleave.
func (s *Store) Atomically(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		state:   s.state.clone(),
		nextID:  s.nextID,
		nextSeq: s.nextSeq,
	}
	if err := fn(t); err != nil {
		return err
	}

	s.state = t.state
	s.nextID = t.nextID
	s.nextSeq = t.nextSeq
	return nil
}

// View runs fn against a cloned state and discards any mutation.
func (s *Store) View(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	t := &tx{state: s.state.clone(), nextID: s.nextID, nextSeq: s.nextSeq}
	s.mu.Unlock()
	return fn(t)
}

type tx struct {
	state   state
	nextID  int64
	nextSeq int64
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) newID() string {
	id := t.nextID
	t.nextID++
	return fmt.Sprintf("%d", id)
}

// TitleStore implementation ---------------------------------------------------

func (t *tx) CreateTitle(_ context.Context, title catalog.Title) (catalog.Title, error) {
	if title.ID == "" {
		title.ID = t.newID()
	} else if _, exists := t.state.titles[title.ID]; exists {
		return catalog.Title{}, circerrors.Conflict("memory.CreateTitle", "title %s already exists", title.ID)
	}

	now := time.Now().UTC()
	title.CreatedAt = now
	title.UpdatedAt = now

	t.state.titles[title.ID] = title
	return title, nil
}

func (t *tx) UpdateTitle(_ context.Context, title catalog.Title) (catalog.Title, error) {
	original, ok := t.state.titles[title.ID]
	if !ok {
		return catalog.Title{}, circerrors.NotFound("memory.UpdateTitle", "title %s not found", title.ID)
	}

	title.CreatedAt = original.CreatedAt
	title.UpdatedAt = time.Now().UTC()

	t.state.titles[title.ID] = title
	return title, nil
}

func (t *tx) GetTitle(_ context.Context, id string) (catalog.Title, error) {
	title, ok := t.state.titles[id]
	if !ok {
		return catalog.Title{}, circerrors.NotFound("memory.GetTitle", "title %s not found", id)
	}
	return title, nil
}

func (t *tx) ListTitles(_ context.Context) ([]catalog.Title, error) {
	result := make([]catalog.Title, 0, len(t.state.titles))
	for _, title := range t.state.titles {
		result = append(result, title)
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

// CopyStore implementation ----------------------------------------------------

func (t *tx) CreateCopy(_ context.Context, c catalog.Copy) (catalog.Copy, error) {
	if c.ID == "" {
		c.ID = t.newID()
	} else if _, exists := t.state.copies[c.ID]; exists {
		return catalog.Copy{}, circerrors.Conflict("memory.CreateCopy", "copy %s already exists", c.ID)
	}
	if c.Status == "" {
		c.Status = catalog.CopyAvailable
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	t.state.copies[c.ID] = c
	return c, nil
}

func (t *tx) UpdateCopy(_ context.Context, c catalog.Copy) (catalog.Copy, error) {
	original, ok := t.state.copies[c.ID]
	if !ok {
		return catalog.Copy{}, circerrors.NotFound("memory.UpdateCopy", "copy %s not found", c.ID)
	}

	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	t.state.copies[c.ID] = c
	return c, nil
}

func (t *tx) GetCopy(_ context.Context, id string) (catalog.Copy, error) {
	c, ok := t.state.copies[id]
	if !ok {
		return catalog.Copy{}, circerrors.NotFound("memory.GetCopy", "copy %s not found", id)
	}
	return c, nil
}

func (t *tx) ListCopiesByTitle(_ context.Context, titleID string) ([]catalog.Copy, error) {
	result := make([]catalog.Copy, 0)
	for _, c := range t.state.copies {
		if c.TitleID == titleID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (t *tx) TransitionCopy(_ context.Context, id string, from, to catalog.CopyStatus) (catalog.Copy, error) {
	c, ok := t.state.copies[id]
	if !ok {
		return catalog.Copy{}, circerrors.NotFound("memory.TransitionCopy", "copy %s not found", id)
	}
	if c.Status != from {
		return catalog.Copy{}, circerrors.Conflict("memory.TransitionCopy",
			"copy %s is %s, expected %s", id, c.Status, from)
	}

	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	t.state.copies[id] = c
	return c, nil
}

// LoanStore implementation ----------------------------------------------------

func (t *tx) CreateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	if l.ID == "" {
		l.ID = t.newID()
	} else if _, exists := t.state.loans[l.ID]; exists {
		return loan.Loan{}, circerrors.Conflict("memory.CreateLoan", "loan %s already exists", l.ID)
	}

	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	t.state.loans[l.ID] = l
	return l, nil
}

func (t *tx) UpdateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	original, ok := t.state.loans[l.ID]
	if !ok {
		return loan.Loan{}, circerrors.NotFound("memory.UpdateLoan", "loan %s not found", l.ID)
	}

	l.CreatedAt = original.CreatedAt
	l.UpdatedAt = time.Now().UTC()

	t.state.loans[l.ID] = l
	return l, nil
}

func (t *tx) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	l, ok := t.state.loans[id]
	if !ok {
		return loan.Loan{}, circerrors.NotFound("memory.GetLoan", "loan %s not found", id)
	}
	return l, nil
}

func (t *tx) GetOpenLoanByCopy(_ context.Context, copyID string) (loan.Loan, error) {
	for _, l := range t.state.loans {
		if l.CopyID == copyID && l.Open() {
			return l, nil
		}
	}
	return loan.Loan{}, circerrors.NotFound("memory.GetOpenLoanByCopy", "no open loan for copy %s", copyID)
}

func (t *tx) ListLoansByBorrower(_ context.Context, borrowerID string) ([]loan.Loan, error) {
	result := make([]loan.Loan, 0)
	for _, l := range t.state.loans {
		if l.BorrowerID == borrowerID {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (t *tx) ListOpenLoans(_ context.Context) ([]loan.Loan, error) {
	result := make([]loan.Loan, 0)
	for _, l := range t.state.loans {
		if l.Open() {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

func (t *tx) CountOpenLoans(_ context.Context) (int, error) {
	count := 0
	for _, l := range t.state.loans {
		if l.Open() {
			count++
		}
	}
	return count, nil
}

func (t *tx) CountOverdueLoans(_ context.Context, now time.Time) (int, error) {
	count := 0
	for _, l := range t.state.loans {
		if l.IsOverdue(now) {
			count++
		}
	}
	return count, nil
}

// ReservationStore implementation ---------------------------------------------

func (t *tx) CreateReservation(_ context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	if r.ID == "" {
		r.ID = t.newID()
	} else if _, exists := t.state.reservations[r.ID]; exists {
		return reservation.Reservation{}, circerrors.Conflict("memory.CreateReservation",
			"reservation %s already exists", r.ID)
	}

	r.Sequence = t.nextSeq
	t.nextSeq++

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	t.state.reservations[r.ID] = r
	return r, nil
}

func (t *tx) UpdateReservation(_ context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	original, ok := t.state.reservations[r.ID]
	if !ok {
		return reservation.Reservation{}, circerrors.NotFound("memory.UpdateReservation",
			"reservation %s not found", r.ID)
	}

	r.CreatedAt = original.CreatedAt
	r.Sequence = original.Sequence
	r.UpdatedAt = time.Now().UTC()

	t.state.reservations[r.ID] = r
	return r, nil
}

func (t *tx) GetReservation(_ context.Context, id string) (reservation.Reservation, error) {
	r, ok := t.state.reservations[id]
	if !ok {
		return reservation.Reservation{}, circerrors.NotFound("memory.GetReservation",
			"reservation %s not found", id)
	}
	return r, nil
}

func (t *tx) ListActiveByTitle(_ context.Context, titleID string) ([]reservation.Reservation, error) {
	result := make([]reservation.Reservation, 0)
	for _, r := range t.state.reservations {
		if r.TitleID == titleID && r.Status == reservation.StatusActive {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result, nil
}

func (t *tx) GetActiveByBorrowerAndTitle(_ context.Context, borrowerID, titleID string) (reservation.Reservation, error) {
	for _, r := range t.state.reservations {
		if r.BorrowerID == borrowerID && r.TitleID == titleID && r.Status == reservation.StatusActive {
			return r, nil
		}
	}
	return reservation.Reservation{}, circerrors.NotFound("memory.GetActiveByBorrowerAndTitle",
		"no active reservation for borrower %s on title %s", borrowerID, titleID)
}

func (t *tx) ListActiveExpiredBefore(_ context.Context, cutoff time.Time) ([]reservation.Reservation, error) {
	result := make([]reservation.Reservation, 0)
	for _, r := range t.state.reservations {
		if r.Status == reservation.StatusActive && r.ExpiryDate.Before(cutoff) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result, nil
}

func (t *tx) ListReservationsByBorrower(_ context.Context, borrowerID string) ([]reservation.Reservation, error) {
	result := make([]reservation.Reservation, 0)
	for _, r := range t.state.reservations {
		if r.BorrowerID == borrowerID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result, nil
}

// FineStore implementation ----------------------------------------------------

func (t *tx) CreateFine(_ context.Context, f fine.Fine) (fine.Fine, error) {
	if f.ID == "" {
		f.ID = t.newID()
	} else if _, exists := t.state.fines[f.ID]; exists {
		return fine.Fine{}, circerrors.Conflict("memory.CreateFine", "fine %s already exists", f.ID)
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	t.state.fines[f.ID] = f
	return f, nil
}

func (t *tx) UpdateFine(_ context.Context, f fine.Fine) (fine.Fine, error) {
	original, ok := t.state.fines[f.ID]
	if !ok {
		return fine.Fine{}, circerrors.NotFound("memory.UpdateFine", "fine %s not found", f.ID)
	}

	f.CreatedAt = original.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	t.state.fines[f.ID] = f
	return f, nil
}

func (t *tx) GetFine(_ context.Context, id string) (fine.Fine, error) {
	f, ok := t.state.fines[id]
	if !ok {
		return fine.Fine{}, circerrors.NotFound("memory.GetFine", "fine %s not found", id)
	}
	return f, nil
}

func (t *tx) GetOpenFineByLoan(_ context.Context, loanID string) (fine.Fine, error) {
	for _, f := range t.state.fines {
		if f.LoanID == loanID && f.Payable() {
			return f, nil
		}
	}
	return fine.Fine{}, circerrors.NotFound("memory.GetOpenFineByLoan", "no open fine for loan %s", loanID)
}

func (t *tx) ListFinesByBorrower(_ context.Context, borrowerID string) ([]fine.Fine, error) {
	result := make([]fine.Fine, 0)
	for _, f := range t.state.fines {
		if f.BorrowerID == borrowerID {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

// Helpers ---------------------------------------------------------------------

// lessID orders identifiers numerically when both parse as integers so that
// "9" sorts before "10"; otherwise it falls back to lexical order.
func lessID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
