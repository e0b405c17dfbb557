package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"scadenze/internal/cache"
	"scadenze/internal/core"
)

// Cache partition names. Invalidation targets one of these without touching
// the others.
const (
	PartitionMonthlySavings  = "monthly_savings"
	PartitionCategorySavings = "category_savings"
)

// Collection names understood by Repository.CollectionVersion.
const (
	CollectionDefinitions  = "definitions"
	CollectionOccurrences  = "occurrences"
	CollectionBalances     = "saving_balances"
	CollectionTransactions = "transactions"
)

// SyncBatch is the full write set of one synchronization pass. The
// repository applies it atomically: every create, update and delete lands in
// a single commit or none of them do.
type SyncBatch struct {
	DefinitionID int64
	Create       []core.Occurrence
	Update       []core.Occurrence
	Delete       []int64
}

// Repository is the persistence port. Implementations live in
// internal/storage.
type Repository interface {
	Definition(ctx context.Context, id int64) (core.Definition, error)
	Definitions(ctx context.Context) ([]core.Definition, error)
	Occurrence(ctx context.Context, id int64) (core.Occurrence, error)
	Occurrences(ctx context.Context, definitionID int64) ([]core.Occurrence, error)
	Balances(ctx context.Context, definitionIDs []int64) ([]core.SavingBalance, error)
	Transactions(ctx context.Context) ([]core.Transaction, error)
	Categories(ctx context.Context) ([]core.Category, error)
	// LinkedTransactions maps transaction id to the occurrence currently
	// linked to it.
	LinkedTransactions(ctx context.Context) (map[int64]int64, error)
	ApplySyncBatch(ctx context.Context, batch SyncBatch) error
	UpdateOccurrence(ctx context.Context, occ core.Occurrence) error
	DeleteDefinition(ctx context.Context, id int64) error
	CollectionVersion(ctx context.Context, collection string) (cache.Signature, error)
}

// EventPublisher announces completed synchronization passes. Publishing is
// best-effort; failures are logged, never surfaced.
type EventPublisher interface {
	PublishOccurrenceSync(ctx context.Context, definitionID int64, summary SyncSummary) error
}

// ObligationService is the engine's upward-facing API. The calculation
// cache, calendar and clock are injected so tests run with isolated
// instances and a fixed time.
type ObligationService struct {
	repo     Repository
	calc     *cache.Calc
	events   EventPublisher
	calendar BusinessDayProvider
	match    MatchParams
	now      func() time.Time
}

func NewObligationService(repo Repository, calc *cache.Calc, events EventPublisher, match MatchParams) *ObligationService {
	return &ObligationService{
		repo:     repo,
		calc:     calc,
		events:   events,
		calendar: WeekendCalendar{},
		match:    match,
		now:      time.Now,
	}
}

// WithCalendar replaces the business-day provider.
func (s *ObligationService) WithCalendar(cal BusinessDayProvider) *ObligationService {
	s.calendar = cal
	return s
}

// WithClock replaces the time source, for tests.
func (s *ObligationService) WithClock(now func() time.Time) *ObligationService {
	s.now = now
	return s
}

// Synchronize regenerates the occurrence collection of one definition out to
// horizonMonths past the reference date. referenceDate nil means today. All
// validation happens before any write; the whole merge result is committed
// in one transaction, so a failure leaves the stored collection untouched.
func (s *ObligationService) Synchronize(ctx context.Context, definitionID int64, horizonMonths int, referenceDate *core.Date) (SyncSummary, error) {
	if horizonMonths < 0 {
		return SyncSummary{}, core.ErrInvalidHorizon
	}

	def, err := s.repo.Definition(ctx, definitionID)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("fetch definition %d: %w", definitionID, err)
	}
	if err := def.Validate(); err != nil {
		return SyncSummary{}, err
	}

	reference := core.DateOf(s.now())
	if referenceDate != nil {
		reference = *referenceDate
	}

	existing, err := s.repo.Occurrences(ctx, definitionID)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("fetch occurrences for definition %d: %w", definitionID, err)
	}

	seed := SeedDate(def, existing)
	targets, err := GenerateSchedule(def, seed, reference, horizonMonths, s.calendar)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("generate schedule: %w", err)
	}

	merged := MergeOccurrences(def, existing, targets, reference)
	batch := SyncBatch{
		DefinitionID: definitionID,
		Create:       merged.Create,
		Update:       merged.Update,
		Delete:       merged.Delete,
	}
	if err := s.repo.ApplySyncBatch(ctx, batch); err != nil {
		return SyncSummary{}, fmt.Errorf("apply sync batch: %w", err)
	}

	s.invalidateSavings()

	summary := SyncSummary{
		SyncedAt: s.now(),
		Created:  len(merged.Create),
		Updated:  len(merged.Update),
		Deleted:  len(merged.Delete),
	}

	s.publish(ctx, definitionID, summary)

	slog.InfoContext(ctx, "Synchronized definition",
		"definition_id", definitionID,
		"horizon_months", horizonMonths,
		"created", summary.Created,
		"updated", summary.Updated,
		"deleted", summary.Deleted)

	return summary, nil
}

// MarkOccurrenceCompleted records a settled occurrence: status goes to
// completed (locking the record against future syncs), the actuals are
// stored and an optional transaction is linked.
func (s *ObligationService) MarkOccurrenceCompleted(ctx context.Context, occurrenceID int64, actualDate core.Date, actualAmount core.Money, transactionID *int64) (SyncSummary, error) {
	occ, err := s.repo.Occurrence(ctx, occurrenceID)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("fetch occurrence %d: %w", occurrenceID, err)
	}

	if err := validateActuals(occ, actualDate, actualAmount); err != nil {
		return SyncSummary{}, err
	}

	occ.Status = core.StatusCompleted
	occ.ActualDate = &actualDate
	occ.ActualAmount = &actualAmount
	occ.TransactionID = transactionID
	occ.UpdatedAt = s.now()

	if err := s.repo.UpdateOccurrence(ctx, occ); err != nil {
		return SyncSummary{}, fmt.Errorf("update occurrence %d: %w", occurrenceID, err)
	}

	s.invalidateSavings()

	slog.InfoContext(ctx, "Occurrence completed",
		"occurrence_id", occurrenceID,
		"definition_id", occ.DefinitionID,
		"actual_amount_cents", actualAmount.Cents)

	return SyncSummary{SyncedAt: occ.UpdatedAt, Updated: 1}, nil
}

// UpdateOccurrence applies an explicit status/actuals edit from the
// reconciliation surface. This is the only path that can set cancelled or
// reopen a record.
func (s *ObligationService) UpdateOccurrence(ctx context.Context, occurrenceID int64, status core.OccurrenceStatus, actualDate *core.Date, actualAmount *core.Money, transactionID *int64) (SyncSummary, error) {
	if !status.Valid() {
		return SyncSummary{}, &core.ValidationError{
			Messages: []string{fmt.Sprintf("unknown occurrence status %q", status)},
		}
	}

	occ, err := s.repo.Occurrence(ctx, occurrenceID)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("fetch occurrence %d: %w", occurrenceID, err)
	}

	if actualDate != nil || actualAmount != nil {
		date := occ.ScheduledDate
		if actualDate != nil {
			date = *actualDate
		}
		amount := core.Money{}
		if actualAmount != nil {
			amount = *actualAmount
		}
		if err := validateActuals(occ, date, amount); err != nil {
			return SyncSummary{}, err
		}
	}

	occ.Status = status
	occ.ActualDate = actualDate
	occ.ActualAmount = actualAmount
	occ.TransactionID = transactionID
	occ.UpdatedAt = s.now()

	if err := s.repo.UpdateOccurrence(ctx, occ); err != nil {
		return SyncSummary{}, fmt.Errorf("update occurrence %d: %w", occurrenceID, err)
	}

	s.invalidateSavings()

	return SyncSummary{SyncedAt: occ.UpdatedAt, Updated: 1}, nil
}

// ReconciliationCandidates finds and ranks transactions that may settle the
// occurrence. Results are not cached: the window-bound scan is cheap.
func (s *ObligationService) ReconciliationCandidates(ctx context.Context, occurrenceID int64) ([]Candidate, error) {
	occ, err := s.repo.Occurrence(ctx, occurrenceID)
	if err != nil {
		return nil, fmt.Errorf("fetch occurrence %d: %w", occurrenceID, err)
	}
	def, err := s.repo.Definition(ctx, occ.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("fetch definition %d: %w", occ.DefinitionID, err)
	}
	transactions, err := s.repo.Transactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	links, err := s.repo.LinkedTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction links: %w", err)
	}

	return FindCandidates(occ, def, transactions, links, s.match), nil
}

// MonthlySavingsTotal returns the flat monthly set-aside across every
// definition for (year, month), memoized until the definitions collection
// changes.
func (s *ObligationService) MonthlySavingsTotal(ctx context.Context, year, month int) (decimal.Decimal, error) {
	sig, err := s.repo.CollectionVersion(ctx, CollectionDefinitions)
	if err != nil {
		return decimal.Zero, fmt.Errorf("version definitions: %w", err)
	}
	key := cache.Key(fmt.Sprintf("%04d-%02d", year, month), sig)

	return cache.GetOrCompute(s.calc, PartitionMonthlySavings, key, func() (decimal.Decimal, error) {
		defs, err := s.repo.Definitions(ctx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("fetch definitions: %w", err)
		}
		return MonthlySavingsTotal(defs)
	})
}

// CategorySavingsAllocation returns the per-category monthly set-aside for
// (year, month), memoized until definitions change.
func (s *ObligationService) CategorySavingsAllocation(ctx context.Context, year, month int) (map[int64]decimal.Decimal, error) {
	sig, err := s.repo.CollectionVersion(ctx, CollectionDefinitions)
	if err != nil {
		return nil, fmt.Errorf("version definitions: %w", err)
	}
	key := cache.Key(fmt.Sprintf("%04d-%02d", year, month), sig)

	return cache.GetOrCompute(s.calc, PartitionCategorySavings, key, func() (map[int64]decimal.Decimal, error) {
		defs, err := s.repo.Definitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch definitions: %w", err)
		}
		categories, err := s.repo.Categories(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch categories: %w", err)
		}
		return CategorySavingsAllocation(defs, categories)
	})
}

// Balance returns the saving balance view of one definition, zero when no
// balance record exists.
func (s *ObligationService) Balance(ctx context.Context, definitionID int64) (core.Money, error) {
	balances, err := s.repo.Balances(ctx, []int64{definitionID})
	if err != nil {
		return core.Money{}, fmt.Errorf("fetch balances: %w", err)
	}
	for _, b := range balances {
		if b.DefinitionID == definitionID {
			return BalanceView(&b), nil
		}
	}
	return BalanceView(nil), nil
}

// DeleteDefinition removes a definition and all of its occurrences.
func (s *ObligationService) DeleteDefinition(ctx context.Context, definitionID int64) error {
	if err := s.repo.DeleteDefinition(ctx, definitionID); err != nil {
		return fmt.Errorf("delete definition %d: %w", definitionID, err)
	}
	s.invalidateSavings()
	slog.InfoContext(ctx, "Deleted definition", "definition_id", definitionID)
	return nil
}

func (s *ObligationService) invalidateSavings() {
	if s.calc != nil {
		s.calc.Invalidate(PartitionMonthlySavings, PartitionCategorySavings)
	}
}

func (s *ObligationService) publish(ctx context.Context, definitionID int64, summary SyncSummary) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOccurrenceSync(ctx, definitionID, summary); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync event",
			"definition_id", definitionID, "error", err)
	}
}

// validateActuals checks the actuals recorded against an occurrence before
// any write is issued.
func validateActuals(occ core.Occurrence, actualDate core.Date, actualAmount core.Money) error {
	var messages []string
	if actualAmount.Cents < 0 {
		messages = append(messages, "actual amount cannot be negative")
	}
	if err := actualDate.Validate(); err != nil {
		messages = append(messages, "invalid actual date: "+err.Error())
	} else if actualDate.Before(occ.ScheduledDate.Time) && !actualDate.SameDay(occ.ScheduledDate) {
		messages = append(messages, "actual date cannot be before the scheduled date")
	}
	if len(messages) > 0 {
		return &core.ValidationError{Messages: messages}
	}
	return nil
}
