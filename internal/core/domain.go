package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusPlanned   OccurrenceStatus = "planned"
	StatusSaving    OccurrenceStatus = "saving"
	StatusCompleted OccurrenceStatus = "completed"
	StatusCancelled OccurrenceStatus = "cancelled"
)

const (
	SavingDisabled          SavingStrategyType = "disabled"
	SavingEvenlyDistributed SavingStrategyType = "evenlyDistributed"
	SavingCustomMonthly     SavingStrategyType = "customMonthly"
)

const (
	AdjustNone                AdjustmentPolicy = "none"
	AdjustPreviousBusinessDay AdjustmentPolicy = "previousBusinessDay"
	AdjustNextBusinessDay     AdjustmentPolicy = "nextBusinessDay"
)

type (
	// OccurrenceStatus is the lifecycle state of a single scheduled obligation.
	OccurrenceStatus string

	SavingStrategyType string

	// AdjustmentPolicy rolls a scheduled date off non-business days.
	AdjustmentPolicy string

	Date struct {
		time.Time
	}

	// SavingStrategy determines the monthly set-aside contribution of a
	// definition. CustomMonthly must be set when Type is SavingCustomMonthly.
	SavingStrategy struct {
		Type          SavingStrategyType
		CustomMonthly *Money
	}

	// Definition is the configuration of one recurring obligation.
	// Occurrences are owned by their definition via DefinitionID; the two
	// never hold live pointers to each other.
	Definition struct {
		ID              int64
		Name            string
		Amount          Money
		IntervalMonths  int
		FirstOccurrence Date
		LeadTimeMonths  int
		CategoryID      *int64
		Saving          SavingStrategy
		Adjustment      AdjustmentPolicy
		DayPattern      string // optional day-of-month override, e.g. "day:15" or "lastBusinessDay"
		UpdatedAt       time.Time
	}

	// Occurrence is one concrete scheduled (and possibly settled) instance
	// of a definition.
	Occurrence struct {
		ID             int64
		DefinitionID   int64
		ScheduledDate  Date
		ExpectedAmount Money
		Status         OccurrenceStatus
		ActualDate     *Date
		ActualAmount   *Money
		TransactionID  *int64
		UpdatedAt      time.Time
	}

	// SavingBalance is the running saved/paid bookkeeping for a definition.
	// It is maintained elsewhere and consumed read-only here.
	SavingBalance struct {
		DefinitionID int64
		TotalSaved   Money
		TotalPaid    Money
		Year         int
		Month        int
		UpdatedAt    time.Time
	}

	// Transaction is a bank transaction record from the external feed.
	Transaction struct {
		ID                    int64
		Title                 string
		Amount                Money
		Date                  Date
		Expense               bool
		IncludeInCalculations bool
		UpdatedAt             time.Time
	}

	Category struct {
		ID   int64
		Name string
	}

	// ScheduleTarget is one forecast (date, amount) pair produced by the
	// schedule generator.
	ScheduleTarget struct {
		ScheduledDate  Date
		ExpectedAmount Money
	}

	// CandidateScore grades how well a transaction matches an occurrence.
	// Derived on demand, never persisted.
	CandidateScore struct {
		Total        float64
		AmountDiff   Money
		DayDiff      int
		TitleMatched bool
	}
)

var (
	ErrInvalidRecurrence = errors.New("recurrence interval must be positive")
	ErrInvalidHorizon    = errors.New("forecast horizon cannot be negative")
	ErrCategoryNotFound  = errors.New("category not found")
	ErrNotFound          = errors.New("record not found")
)

// ValidationError collects entity-level field problems. It is always returned
// before any write is issued.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// Valid reports whether s is one of the four known statuses.
func (s OccurrenceStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusSaving, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Locked reports whether the status makes an occurrence immune to
// rescheduling and deletion during synchronization.
func (s OccurrenceStatus) Locked() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Locked reports whether the occurrence must never be touched by the
// synchronizer.
func (o Occurrence) Locked() bool {
	return o.Status.Locked()
}

// Balance returns saved minus paid.
func (b SavingBalance) Balance() Money {
	return b.TotalSaved.Sub(b.TotalPaid)
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), int(u.Month()), u.Day())
}

// SameDay reports whether both dates fall on the same calendar day.
func (d Date) SameDay(other Date) bool {
	return d.Format("2006-01-02") == other.Format("2006-01-02")
}

// AddMonths advances the date by n calendar months, clamping the day to the
// last day of the resulting month (Jan 31 + 1 month = Feb 28/29).
func (d Date) AddMonths(n int) Date {
	year, month, day := d.Date()
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), int(first.Month()), day)
}

// DaysBetween returns the absolute number of calendar days between two dates.
func DaysBetween(a, b Date) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(db.Sub(da).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// Validate checks the definition's structural invariants. An interval of
// zero or less is reported as ErrInvalidRecurrence so callers can refuse the
// whole operation; everything else is collected into a ValidationError.
func (d Definition) Validate() error {
	if d.IntervalMonths <= 0 {
		return ErrInvalidRecurrence
	}

	var messages []string
	if strings.TrimSpace(d.Name) == "" {
		messages = append(messages, "name cannot be empty")
	}
	if d.Amount.Cents < 0 {
		messages = append(messages, "amount cannot be negative")
	}
	if d.LeadTimeMonths < 0 {
		messages = append(messages, "lead time cannot be negative")
	}
	if err := d.FirstOccurrence.Validate(); err != nil {
		messages = append(messages, "invalid first occurrence date: "+err.Error())
	}
	switch d.Saving.Type {
	case SavingDisabled, SavingEvenlyDistributed:
	case SavingCustomMonthly:
		if d.Saving.CustomMonthly == nil {
			messages = append(messages, "customMonthly saving strategy requires a custom amount")
		}
	default:
		messages = append(messages, "unknown saving strategy: "+string(d.Saving.Type))
	}
	switch d.Adjustment {
	case "", AdjustNone, AdjustPreviousBusinessDay, AdjustNextBusinessDay:
	default:
		messages = append(messages, "unknown date adjustment policy: "+string(d.Adjustment))
	}

	if len(messages) > 0 {
		return &ValidationError{Messages: messages}
	}
	return nil
}
