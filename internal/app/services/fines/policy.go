package fines

import "time"

// RatePolicy computes the assessed amount for an overdue loan. Policies are
// pure functions of the due date and the overdue interval so assessments
// stay reproducible.
type RatePolicy interface {
	Name() string
	AmountCents(dueDate time.Time, daysOverdue int, dailyRateCents int64) int64
}

// StandardRatePolicy charges the flat daily rate for every overdue day.
type StandardRatePolicy struct{}

func (StandardRatePolicy) Name() string { return "standard" }

func (StandardRatePolicy) AmountCents(_ time.Time, daysOverdue int, dailyRateCents int64) int64 {
	if daysOverdue <= 0 {
		return 0
	}
	return int64(daysOverdue) * dailyRateCents
}

// GraceRatePolicy forgives the first GraceDays overdue days and charges the
// flat rate for the remainder.
type GraceRatePolicy struct {
	GraceDays int
}

func (GraceRatePolicy) Name() string { return "grace" }

func (p GraceRatePolicy) AmountCents(_ time.Time, daysOverdue int, dailyRateCents int64) int64 {
	billable := daysOverdue - p.GraceDays
	if billable <= 0 {
		return 0
	}
	return int64(billable) * dailyRateCents
}

// WeekendRatePolicy charges only for overdue days that fall on weekdays.
// The first overdue day is the calendar day after the due date.
type WeekendRatePolicy struct{}

func (WeekendRatePolicy) Name() string { return "weekend" }

func (WeekendRatePolicy) AmountCents(dueDate time.Time, daysOverdue int, dailyRateCents int64) int64 {
	var billable int64
	for i := 1; i <= daysOverdue; i++ {
		switch dueDate.AddDate(0, 0, i).Weekday() {
		case time.Saturday, time.Sunday:
		default:
			billable++
		}
	}
	return billable * dailyRateCents
}
