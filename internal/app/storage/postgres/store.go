// Package postgres implements the circulation store on PostgreSQL. State
// transitions run as conditional UPDATEs guarded by the current state so
// racing mutations lose cleanly instead of clobbering each other.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/davonlibrary/circulation/internal/app/domain/catalog"
	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/domain/reservation"
	"github.com/davonlibrary/circulation/internal/app/storage"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
)

// Store implements storage.Circulation backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Circulation = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Atomically runs fn inside one SQL transaction.
func (s *Store) Atomically(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return circerrors.Internal("postgres.Atomically", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return circerrors.Internal("postgres.Atomically", err)
	}
	return nil
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return circerrors.Internal("postgres.View", err)
	}
	defer sqlTx.Rollback()
	return fn(&pgTx{tx: sqlTx})
}

// pgTx is the storage.Tx view over one SQL transaction.
type pgTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*pgTx)(nil)

// --- TitleStore -------------------------------------------------------------

func (t *pgTx) CreateTitle(ctx context.Context, title catalog.Title) (catalog.Title, error) {
	const op = "postgres.CreateTitle"

	if title.ID == "" {
		title.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	title.CreatedAt = now
	title.UpdatedAt = now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO circ_titles (id, name, author, isbn, total_copies, available_copies, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, title.ID, title.Name, title.Author, title.ISBN, title.TotalCopies, title.AvailableCopies, title.CreatedAt, title.UpdatedAt)
	if err != nil {
		return catalog.Title{}, mapError(op, err)
	}
	return title, nil
}

func (t *pgTx) UpdateTitle(ctx context.Context, title catalog.Title) (catalog.Title, error) {
	const op = "postgres.UpdateTitle"

	title.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE circ_titles
		SET name = $2, author = $3, isbn = $4, total_copies = $5, available_copies = $6, updated_at = $7
		WHERE id = $1
	`, title.ID, title.Name, title.Author, title.ISBN, title.TotalCopies, title.AvailableCopies, title.UpdatedAt)
	if err != nil {
		return catalog.Title{}, mapError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.Title{}, circerrors.NotFound(op, "title %s not found", title.ID)
	}
	return title, nil
}

func (t *pgTx) GetTitle(ctx context.Context, id string) (catalog.Title, error) {
	const op = "postgres.GetTitle"

	row := t.tx.QueryRowContext(ctx, `
		SELECT id, name, author, isbn, total_copies, available_copies, created_at, updated_at
		FROM circ_titles
		WHERE id = $1
	`, id)

	var title catalog.Title
	err := row.Scan(&title.ID, &title.Name, &title.Author, &title.ISBN,
		&title.TotalCopies, &title.AvailableCopies, &title.CreatedAt, &title.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Title{}, circerrors.NotFound(op, "title %s not found", id)
	}
	if err != nil {
		return catalog.Title{}, mapError(op, err)
	}
	return title, nil
}

func (t *pgTx) ListTitles(ctx context.Context) ([]catalog.Title, error) {
	const op = "postgres.ListTitles"

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, author, isbn, total_copies, available_copies, created_at, updated_at
		FROM circ_titles
		ORDER BY name
	`)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var result []catalog.Title
	for rows.Next() {
		var title catalog.Title
		if err := rows.Scan(&title.ID, &title.Name, &title.Author, &title.ISBN,
			&title.TotalCopies, &title.AvailableCopies, &title.CreatedAt, &title.UpdatedAt); err != nil {
			return nil, mapError(op, err)
		}
		result = append(result, title)
	}
	return result, rows.Err()
}

// --- CopyStore --------------------------------------------------------------

func (t *pgTx) CreateCopy(ctx context.Context, c catalog.Copy) (catalog.Copy, error) {
	const op = "postgres.CreateCopy"

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO circ_copies (id, title_id, branch_id, barcode, status, condition, location, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.TitleID, c.BranchID, c.Barcode, c.Status, c.Condition, c.Location, c.Notes, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return catalog.Copy{}, mapError(op, err)
	}
	return c, nil
}

func (t *pgTx) UpdateCopy(ctx context.Context, c catalog.Copy) (catalog.Copy, error) {
	const op = "postgres.UpdateCopy"

	c.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE circ_copies
		SET branch_id = $2, barcode = $3, status = $4, condition = $5, location = $6, notes = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, c.BranchID, c.Barcode, c.Status, c.Condition, c.Location, c.Notes, c.UpdatedAt)
	if err != nil {
		return catalog.Copy{}, mapError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.Copy{}, circerrors.NotFound(op, "copy %s not found", c.ID)
	}
	return c, nil
}

func (t *pgTx) GetCopy(ctx context.Context, id string) (catalog.Copy, error) {
	const op = "postgres.GetCopy"

	c, err := scanCopy(t.tx.QueryRowContext(ctx, `
		SELECT id, title_id, branch_id, barcode, status, condition, location, notes, created_at, updated_at
		FROM circ_copies
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Copy{}, circerrors.NotFound(op, "copy %s not found", id)
	}
	if err != nil {
		return catalog.Copy{}, mapError(op, err)
	}
	return c, nil
}

func (t *pgTx) ListCopiesByTitle(ctx context.Context, titleID string) ([]catalog.Copy, error) {
	const op = "postgres.ListCopiesByTitle"

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, title_id, branch_id, barcode, status, condition, location, notes, created_at, updated_at
		FROM circ_copies
		WHERE title_id = $1
		ORDER BY id
	`, titleID)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var result []catalog.Copy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (t *pgTx) TransitionCopy(ctx context.Context, id string, from, to catalog.CopyStatus) (catalog.Copy, error) {
	const op = "postgres.TransitionCopy"

	result, err := t.tx.ExecContext(ctx, `
		UPDATE circ_copies
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, time.Now().UTC())
	if err != nil {
		return catalog.Copy{}, mapError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := t.GetCopy(ctx, id); err != nil {
			return catalog.Copy{}, err
		}
		return catalog.Copy{}, circerrors.Conflict(op, "copy %s is no longer %s", id, from)
	}
	return t.GetCopy(ctx, id)
}

// --- LoanStore --------------------------------------------------------------

func (t *pgTx) CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	const op = "postgres.CreateLoan"

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO circ_loans (id, borrower_id, copy_id, title_id, loaned_at, due_date, returned_at,
			extensions_count, max_extensions, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, l.ID, l.BorrowerID, l.CopyID, l.TitleID, l.LoanedAt, l.DueDate, toNullTime(l.ReturnedAt),
		l.ExtensionsCount, l.MaxExtensions, l.Status, l.Notes, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return loan.Loan{}, mapError(op, err)
	}
	return l, nil
}

func (t *pgTx) UpdateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	const op = "postgres.UpdateLoan"

	l.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE circ_loans
		SET due_date = $2, returned_at = $3, extensions_count = $4, status = $5, notes = $6, updated_at = $7
		WHERE id = $1
	`, l.ID, l.DueDate, toNullTime(l.ReturnedAt), l.ExtensionsCount, l.Status, l.Notes, l.UpdatedAt)
	if err != nil {
		return loan.Loan{}, mapError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return loan.Loan{}, circerrors.NotFound(op, "loan %s not found", l.ID)
	}
	return l, nil
}

const loanColumns = `id, borrower_id, copy_id, title_id, loaned_at, due_date, returned_at,
	extensions_count, max_extensions, status, notes, created_at, updated_at`

func (t *pgTx) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	const op = "postgres.GetLoan"

	l, err := scanLoan(t.tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM circ_loans WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, circerrors.NotFound(op, "loan %s not found", id)
	}
	if err != nil {
		return loan.Loan{}, mapError(op, err)
	}
	return l, nil
}

func (t *pgTx) GetOpenLoanByCopy(ctx context.Context, copyID string) (loan.Loan, error) {
	const op = "postgres.GetOpenLoanByCopy"

	l, err := scanLoan(t.tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM circ_loans WHERE copy_id = $1 AND status = 'ACTIVE' AND returned_at IS NULL`,
		copyID))
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, circerrors.NotFound(op, "no open loan for copy %s", copyID)
	}
	if err != nil {
		return loan.Loan{}, mapError(op, err)
	}
	return l, nil
}

func (t *pgTx) ListLoansByBorrower(ctx context.Context, borrowerID string) ([]loan.Loan, error) {
	return t.listLoans(ctx,
		`SELECT `+loanColumns+` FROM circ_loans WHERE borrower_id = $1 ORDER BY loaned_at`, borrowerID)
}

func (t *pgTx) ListOpenLoans(ctx context.Context) ([]loan.Loan, error) {
	return t.listLoans(ctx,
		`SELECT `+loanColumns+` FROM circ_loans WHERE status = 'ACTIVE' AND returned_at IS NULL ORDER BY due_date`)
}

func (t *pgTx) listLoans(ctx context.Context, query string, args ...interface{}) ([]loan.Loan, error) {
	const op = "postgres.listLoans"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var result []loan.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (t *pgTx) CountOpenLoans(ctx context.Context) (int, error) {
	const op = "postgres.CountOpenLoans"

	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM circ_loans WHERE status = 'ACTIVE' AND returned_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, mapError(op, err)
	}
	return n, nil
}

func (t *pgTx) CountOverdueLoans(ctx context.Context, now time.Time) (int, error) {
	const op = "postgres.CountOverdueLoans"

	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM circ_loans WHERE status = 'ACTIVE' AND returned_at IS NULL AND due_date < $1`,
		now.UTC()).Scan(&n)
	if err != nil {
		return 0, mapError(op, err)
	}
	return n, nil
}

// --- ReservationStore -------------------------------------------------------

const reservationColumns = `id, borrower_id, title_id, requested_at, seq, expiry_date,
	queue_position, status, notified_at, notes, created_at, updated_at`

func (t *pgTx) CreateReservation(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	const op = "postgres.CreateReservation"

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	// seq is a BIGSERIAL: the database assigns the insertion-order tie-break.
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO circ_reservations (id, borrower_id, title_id, requested_at, expiry_date,
			queue_position, status, notified_at, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`, r.ID, r.BorrowerID, r.TitleID, r.RequestedAt, r.ExpiryDate,
		r.QueuePosition, r.Status, toNullTime(r.NotifiedAt), r.Notes, r.CreatedAt, r.UpdatedAt).Scan(&r.Sequence)
	if err != nil {
		return reservation.Reservation{}, mapError(op, err)
	}
	return r, nil
}

func (t *pgTx) UpdateReservation(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	const op = "postgres.UpdateReservation"

	r.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE circ_reservations
		SET expiry_date = $2, queue_position = $3, status = $4, notified_at = $5, notes = $6, updated_at = $7
		WHERE id = $1
	`, r.ID, r.ExpiryDate, r.QueuePosition, r.Status, toNullTime(r.NotifiedAt), r.Notes, r.UpdatedAt)
	if err != nil {
		return reservation.Reservation{}, mapError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reservation.Reservation{}, circerrors.NotFound(op, "reservation %s not found", r.ID)
	}
	return r, nil
}

func (t *pgTx) GetReservation(ctx context.Context, id string) (reservation.Reservation, error) {
	const op = "postgres.GetReservation"

	r, err := scanReservation(t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM circ_reservations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Reservation{}, circerrors.NotFound(op, "reservation %s not found", id)
	}
	if err != nil {
		return reservation.Reservation{}, mapError(op, err)
	}
	return r, nil
}

func (t *pgTx) GetActiveByBorrowerAndTitle(ctx context.Context, borrowerID, titleID string) (reservation.Reservation, error) {
	const op = "postgres.GetActiveByBorrowerAndTitle"

	r, err := scanReservation(t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM circ_reservations
		 WHERE borrower_id = $1 AND title_id = $2 AND status = 'ACTIVE'`, borrowerID, titleID))
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Reservation{}, circerrors.NotFound(op,
			"no active reservation for borrower %s on title %s", borrowerID, titleID)
	}
	if err != nil {
		return reservation.Reservation{}, mapError(op, err)
	}
	return r, nil
}

func (t *pgTx) ListActiveByTitle(ctx context.Context, titleID string) ([]reservation.Reservation, error) {
	return t.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM circ_reservations
		 WHERE title_id = $1 AND status = 'ACTIVE'
		 ORDER BY requested_at, seq`, titleID)
}

func (t *pgTx) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]reservation.Reservation, error) {
	return t.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM circ_reservations
		 WHERE status = 'ACTIVE' AND expiry_date < $1
		 ORDER BY requested_at, seq`, cutoff.UTC())
}

func (t *pgTx) ListReservationsByBorrower(ctx context.Context, borrowerID string) ([]reservation.Reservation, error) {
	return t.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM circ_reservations
		 WHERE borrower_id = $1
		 ORDER BY requested_at, seq`, borrowerID)
}

func (t *pgTx) listReservations(ctx context.Context, query string, args ...interface{}) ([]reservation.Reservation, error) {
	const op = "postgres.listReservations"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var result []reservation.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- FineStore --------------------------------------------------------------

const fineColumns = `id, loan_id, borrower_id, amount_cents, paid_amount_cents, waived_amount_cents,
	status, reason, assessed_at, paid_at, payment_method, transaction_ref,
	waived_by, waiver_reason, waived_at, created_at, updated_at`

func (t *pgTx) CreateFine(ctx context.Context, f fine.Fine) (fine.Fine, error) {
	const op = "postgres.CreateFine"

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO circ_fines (id, loan_id, borrower_id, amount_cents, paid_amount_cents, waived_amount_cents,
			status, reason, assessed_at, paid_at, payment_method, transaction_ref,
			waived_by, waiver_reason, waived_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, f.ID, f.LoanID, f.BorrowerID, f.AmountCents, f.PaidAmountCents, f.WaivedAmountCents,
		f.Status, f.Reason, f.AssessedAt, toNullTime(f.PaidAt), f.PaymentMethod, f.TransactionRef,
		f.WaivedBy, f.WaiverReason, toNullTime(f.WaivedAt), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fine.Fine{}, mapError(op, err)
	}
	return f, nil
}

func (t *pgTx) UpdateFine(ctx context.Context, f fine.Fine) (fine.Fine, error) {
	const op = "postgres.UpdateFine"

	f.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE circ_fines
		SET paid_amount_cents = $2, waived_amount_cents = $3, status = $4, paid_at = $5,
			payment_method = $6, transaction_ref = $7, waived_by = $8, waiver_reason = $9,
			waived_at = $10, updated_at = $11
		WHERE id = $1
	`, f.ID, f.PaidAmountCents, f.WaivedAmountCents, f.Status, toNullTime(f.PaidAt),
		f.PaymentMethod, f.TransactionRef, f.WaivedBy, f.WaiverReason,
		toNullTime(f.WaivedAt), f.UpdatedAt)
	if err != nil {
		return fine.Fine{}, mapError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fine.Fine{}, circerrors.NotFound(op, "fine %s not found", f.ID)
	}
	return f, nil
}

func (t *pgTx) GetFine(ctx context.Context, id string) (fine.Fine, error) {
	const op = "postgres.GetFine"

	f, err := scanFine(t.tx.QueryRowContext(ctx,
		`SELECT `+fineColumns+` FROM circ_fines WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fine.Fine{}, circerrors.NotFound(op, "fine %s not found", id)
	}
	if err != nil {
		return fine.Fine{}, mapError(op, err)
	}
	return f, nil
}

func (t *pgTx) GetOpenFineByLoan(ctx context.Context, loanID string) (fine.Fine, error) {
	const op = "postgres.GetOpenFineByLoan"

	f, err := scanFine(t.tx.QueryRowContext(ctx,
		`SELECT `+fineColumns+` FROM circ_fines
		 WHERE loan_id = $1 AND status IN ('ACTIVE', 'PARTIALLY_PAID')`, loanID))
	if errors.Is(err, sql.ErrNoRows) {
		return fine.Fine{}, circerrors.NotFound(op, "no open fine for loan %s", loanID)
	}
	if err != nil {
		return fine.Fine{}, mapError(op, err)
	}
	return f, nil
}

func (t *pgTx) ListFinesByBorrower(ctx context.Context, borrowerID string) ([]fine.Fine, error) {
	const op = "postgres.ListFinesByBorrower"

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+fineColumns+` FROM circ_fines WHERE borrower_id = $1 ORDER BY assessed_at`, borrowerID)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var result []fine.Fine
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// --- scanning helpers -------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCopy(row rowScanner) (catalog.Copy, error) {
	var c catalog.Copy
	err := row.Scan(&c.ID, &c.TitleID, &c.BranchID, &c.Barcode, &c.Status,
		&c.Condition, &c.Location, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanLoan(row rowScanner) (loan.Loan, error) {
	var (
		l          loan.Loan
		returnedAt sql.NullTime
	)
	err := row.Scan(&l.ID, &l.BorrowerID, &l.CopyID, &l.TitleID, &l.LoanedAt, &l.DueDate, &returnedAt,
		&l.ExtensionsCount, &l.MaxExtensions, &l.Status, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if returnedAt.Valid {
		l.ReturnedAt = returnedAt.Time
	}
	return l, err
}

func scanReservation(row rowScanner) (reservation.Reservation, error) {
	var (
		r          reservation.Reservation
		notifiedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.BorrowerID, &r.TitleID, &r.RequestedAt, &r.Sequence, &r.ExpiryDate,
		&r.QueuePosition, &r.Status, &notifiedAt, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if notifiedAt.Valid {
		r.NotifiedAt = notifiedAt.Time
	}
	return r, err
}

func scanFine(row rowScanner) (fine.Fine, error) {
	var (
		f        fine.Fine
		paidAt   sql.NullTime
		waivedAt sql.NullTime
	)
	err := row.Scan(&f.ID, &f.LoanID, &f.BorrowerID, &f.AmountCents, &f.PaidAmountCents, &f.WaivedAmountCents,
		&f.Status, &f.Reason, &f.AssessedAt, &paidAt, &f.PaymentMethod, &f.TransactionRef,
		&f.WaivedBy, &f.WaiverReason, &waivedAt, &f.CreatedAt, &f.UpdatedAt)
	if paidAt.Valid {
		f.PaidAt = paidAt.Time
	}
	if waivedAt.Valid {
		f.WaivedAt = waivedAt.Time
	}
	return f, err
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// mapError translates driver failures into the engine taxonomy. Unique
// violations become conflicts; everything else is internal.
func mapError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return circerrors.Conflict(op, "unique constraint violated: %s", pqErr.Constraint)
	}
	return circerrors.Internal(op, err)
}
