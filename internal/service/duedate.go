package service

import (
	"time"

	"github.com/tarang-school/pay-api/internal/models"
)

// DueDateScheduler computes first-eligible-weekday due dates. Pure
// calendar arithmetic, no I/O.
type DueDateScheduler struct{}

// NewDueDateScheduler constructs a DueDateScheduler.
func NewDueDateScheduler() *DueDateScheduler {
	return &DueDateScheduler{}
}

// FirstEligibleWeekday returns the first date in referenceMonth's month
// that falls on the target weekday.
func (s *DueDateScheduler) FirstEligibleWeekday(referenceMonth time.Time, target time.Weekday) models.Date {
	first := time.Date(referenceMonth.Year(), referenceMonth.Month(), 1, 0, 0, 0, 0, time.UTC)
	offset := (int(target) - int(first.Weekday()) + 7) % 7
	return models.DateOf(first.AddDate(0, 0, offset))
}

// PreferredDueDate returns the earliest of the first Wednesday, Thursday
// and Friday of referenceMonth's month.
func (s *DueDateScheduler) PreferredDueDate(referenceMonth time.Time) models.Date {
	best := s.FirstEligibleWeekday(referenceMonth, time.Wednesday)
	for _, wd := range []time.Weekday{time.Thursday, time.Friday} {
		if candidate := s.FirstEligibleWeekday(referenceMonth, wd); candidate.Before(best) {
			best = candidate
		}
	}
	return best
}
