// Package fine holds the monetary penalty aggregate. Amounts are integer
// cents throughout; no floating point ever touches money.
package fine

import "time"

// Status is the settlement state of a fine.
type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusWaived        Status = "WAIVED"
	StatusCancelled     Status = "CANCELLED"
)

// Fine is a penalty tied to exactly one loan. AmountCents is preserved for
// audit even when the fine is waived; the forgiven balance is recorded in
// WaivedAmountCents instead of zeroing the original amount.
type Fine struct {
	ID                string
	LoanID            string
	BorrowerID        string
	AmountCents       int64
	PaidAmountCents   int64
	WaivedAmountCents int64
	Status            Status
	Reason            string
	AssessedAt        time.Time
	PaidAt            time.Time
	PaymentMethod     string
	TransactionRef    string
	WaivedBy          string
	WaiverReason      string
	WaivedAt          time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OutstandingCents returns the unpaid balance. Waived and cancelled fines
// carry no outstanding balance.
func (f Fine) OutstandingCents() int64 {
	switch f.Status {
	case StatusWaived, StatusCancelled:
		return 0
	}
	return f.AmountCents - f.PaidAmountCents
}

// Settled reports whether no further payment is accepted.
func (f Fine) Settled() bool {
	return f.Status == StatusPaid || f.Status == StatusWaived || f.Status == StatusCancelled
}

// Payable reports whether the fine can still receive payments.
func (f Fine) Payable() bool {
	return f.Status == StatusActive || f.Status == StatusPartiallyPaid
}
