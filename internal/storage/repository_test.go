package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"scadenze/internal/core"
	"scadenze/internal/services"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testDefinition() core.Definition {
	custom := core.NewMoney(1500)
	return core.Definition{
		Name:            "Home insurance",
		Amount:          core.NewMoney(36000),
		IntervalMonths:  12,
		FirstOccurrence: core.NewDate(2025, 3, 1),
		LeadTimeMonths:  2,
		Saving:          core.SavingStrategy{Type: core.SavingCustomMonthly, CustomMonthly: &custom},
		Adjustment:      core.AdjustPreviousBusinessDay,
		DayPattern:      "day:15",
	}
}

func TestSQLiteRepository_DefinitionRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	category, err := repo.CreateCategory(ctx, "Insurance")
	if err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}

	def := testDefinition()
	def.CategoryID = &category.ID

	created, err := repo.CreateDefinition(ctx, def)
	if err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}
	if created.ID == 0 {
		t.Fatal("CreateDefinition() did not assign an id")
	}

	got, err := repo.Definition(ctx, created.ID)
	if err != nil {
		t.Fatalf("Definition() error = %v", err)
	}

	if got.Name != def.Name || got.Amount != def.Amount || got.IntervalMonths != def.IntervalMonths {
		t.Errorf("Definition() = %+v, want fields of %+v", got, def)
	}
	if !got.FirstOccurrence.SameDay(def.FirstOccurrence) {
		t.Errorf("FirstOccurrence = %v, want %v", got.FirstOccurrence, def.FirstOccurrence)
	}
	if got.CategoryID == nil || *got.CategoryID != category.ID {
		t.Errorf("CategoryID = %v, want %d", got.CategoryID, category.ID)
	}
	if got.Saving.Type != core.SavingCustomMonthly || got.Saving.CustomMonthly == nil ||
		got.Saving.CustomMonthly.Cents != 1500 {
		t.Errorf("Saving = %+v, want customMonthly 1500", got.Saving)
	}
	if got.Adjustment != core.AdjustPreviousBusinessDay || got.DayPattern != "day:15" {
		t.Errorf("Adjustment/DayPattern = %v/%q", got.Adjustment, got.DayPattern)
	}
}

func TestSQLiteRepository_DefinitionNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Definition(context.Background(), 999)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Definition(999) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_ApplySyncBatch(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	def, err := repo.CreateDefinition(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	stamp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := services.SyncBatch{
		DefinitionID: def.ID,
		Create: []core.Occurrence{
			{DefinitionID: def.ID, ScheduledDate: core.NewDate(2025, 3, 15), ExpectedAmount: core.NewMoney(36000), Status: core.StatusSaving, UpdatedAt: stamp},
			{DefinitionID: def.ID, ScheduledDate: core.NewDate(2026, 3, 15), ExpectedAmount: core.NewMoney(36000), Status: core.StatusPlanned, UpdatedAt: stamp},
		},
	}
	if err := repo.ApplySyncBatch(ctx, batch); err != nil {
		t.Fatalf("ApplySyncBatch() error = %v", err)
	}

	occurrences, err := repo.Occurrences(ctx, def.ID)
	if err != nil {
		t.Fatalf("Occurrences() error = %v", err)
	}
	if len(occurrences) != 2 {
		t.Fatalf("stored %d occurrences, want 2", len(occurrences))
	}
	if occurrences[0].Status != core.StatusSaving || occurrences[1].Status != core.StatusPlanned {
		t.Errorf("statuses = %v, %v; want saving, planned", occurrences[0].Status, occurrences[1].Status)
	}

	// Second batch updates one and deletes the other in a single commit.
	updated := occurrences[0]
	updated.ExpectedAmount = core.NewMoney(37000)
	updated.Status = core.StatusPlanned
	second := services.SyncBatch{
		DefinitionID: def.ID,
		Update:       []core.Occurrence{updated},
		Delete:       []int64{occurrences[1].ID},
	}
	if err := repo.ApplySyncBatch(ctx, second); err != nil {
		t.Fatalf("ApplySyncBatch() error = %v", err)
	}

	occurrences, _ = repo.Occurrences(ctx, def.ID)
	if len(occurrences) != 1 {
		t.Fatalf("stored %d occurrences after second batch, want 1", len(occurrences))
	}
	if occurrences[0].ExpectedAmount.Cents != 37000 {
		t.Errorf("updated amount = %d, want 37000", occurrences[0].ExpectedAmount.Cents)
	}
}

func TestSQLiteRepository_ApplySyncBatch_RollsBackOnFailure(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	def, err := repo.CreateDefinition(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	// The update targets a missing occurrence; nothing else in the batch
	// may survive.
	batch := services.SyncBatch{
		DefinitionID: def.ID,
		Update: []core.Occurrence{
			{ID: 999, DefinitionID: def.ID, ScheduledDate: core.NewDate(2025, 3, 15), Status: core.StatusPlanned},
		},
		Create: []core.Occurrence{
			{DefinitionID: def.ID, ScheduledDate: core.NewDate(2025, 3, 15), ExpectedAmount: core.NewMoney(36000), Status: core.StatusSaving},
		},
	}
	if err := repo.ApplySyncBatch(ctx, batch); err == nil {
		t.Fatal("ApplySyncBatch() = nil error, want failure on missing occurrence")
	}

	occurrences, _ := repo.Occurrences(ctx, def.ID)
	if len(occurrences) != 0 {
		t.Errorf("failed batch committed %d occurrences, want 0", len(occurrences))
	}
}

func TestSQLiteRepository_OccurrenceActualsAndLinks(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	def, _ := repo.CreateDefinition(ctx, testDefinition())
	txn, err := repo.CreateTransaction(ctx, core.Transaction{
		Title: "Insurance premium", Amount: core.NewMoney(35800),
		Date: core.NewDate(2025, 3, 16), Expense: true, IncludeInCalculations: true,
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	batch := services.SyncBatch{
		DefinitionID: def.ID,
		Create: []core.Occurrence{
			{DefinitionID: def.ID, ScheduledDate: core.NewDate(2025, 3, 15), ExpectedAmount: core.NewMoney(36000), Status: core.StatusSaving},
		},
	}
	if err := repo.ApplySyncBatch(ctx, batch); err != nil {
		t.Fatalf("ApplySyncBatch() error = %v", err)
	}
	occurrences, _ := repo.Occurrences(ctx, def.ID)

	occ := occurrences[0]
	actualDate := core.NewDate(2025, 3, 16)
	actualAmount := core.NewMoney(35800)
	occ.Status = core.StatusCompleted
	occ.ActualDate = &actualDate
	occ.ActualAmount = &actualAmount
	occ.TransactionID = &txn.ID
	occ.UpdatedAt = time.Now().UTC()

	if err := repo.UpdateOccurrence(ctx, occ); err != nil {
		t.Fatalf("UpdateOccurrence() error = %v", err)
	}

	got, err := repo.Occurrence(ctx, occ.ID)
	if err != nil {
		t.Fatalf("Occurrence() error = %v", err)
	}
	if got.Status != core.StatusCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}
	if got.ActualDate == nil || !got.ActualDate.SameDay(actualDate) {
		t.Errorf("ActualDate = %v, want %v", got.ActualDate, actualDate)
	}
	if got.ActualAmount == nil || got.ActualAmount.Cents != 35800 {
		t.Errorf("ActualAmount = %v, want 35800", got.ActualAmount)
	}
	if got.TransactionID == nil || *got.TransactionID != txn.ID {
		t.Errorf("TransactionID = %v, want %d", got.TransactionID, txn.ID)
	}

	links, err := repo.LinkedTransactions(ctx)
	if err != nil {
		t.Fatalf("LinkedTransactions() error = %v", err)
	}
	if links[txn.ID] != occ.ID {
		t.Errorf("links[%d] = %d, want %d", txn.ID, links[txn.ID], occ.ID)
	}
}

func TestSQLiteRepository_DeleteDefinitionCascades(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	def, _ := repo.CreateDefinition(ctx, testDefinition())
	batch := services.SyncBatch{
		DefinitionID: def.ID,
		Create: []core.Occurrence{
			{DefinitionID: def.ID, ScheduledDate: core.NewDate(2025, 3, 15), ExpectedAmount: core.NewMoney(36000), Status: core.StatusSaving},
		},
	}
	if err := repo.ApplySyncBatch(ctx, batch); err != nil {
		t.Fatalf("ApplySyncBatch() error = %v", err)
	}
	if err := repo.UpsertBalance(ctx, core.SavingBalance{
		DefinitionID: def.ID, TotalSaved: core.NewMoney(3000), Year: 2025, Month: 1,
	}); err != nil {
		t.Fatalf("UpsertBalance() error = %v", err)
	}

	if err := repo.DeleteDefinition(ctx, def.ID); err != nil {
		t.Fatalf("DeleteDefinition() error = %v", err)
	}

	if _, err := repo.Definition(ctx, def.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Definition() error = %v, want ErrNotFound", err)
	}
	occurrences, _ := repo.Occurrences(ctx, def.ID)
	if len(occurrences) != 0 {
		t.Errorf("cascade left %d occurrences, want 0", len(occurrences))
	}
	balances, _ := repo.Balances(ctx, []int64{def.ID})
	if len(balances) != 0 {
		t.Errorf("cascade left %d balances, want 0", len(balances))
	}
}

func TestSQLiteRepository_DeleteDefinitionNotFound(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.DeleteDefinition(context.Background(), 42)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteDefinition(42) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_BalanceUpsert(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	def, _ := repo.CreateDefinition(ctx, testDefinition())
	b := core.SavingBalance{
		DefinitionID: def.ID,
		TotalSaved:   core.NewMoney(3000),
		TotalPaid:    core.NewMoney(0),
		Year:         2025,
		Month:        1,
	}
	if err := repo.UpsertBalance(ctx, b); err != nil {
		t.Fatalf("UpsertBalance() error = %v", err)
	}

	b.TotalSaved = core.NewMoney(6000)
	b.Month = 2
	if err := repo.UpsertBalance(ctx, b); err != nil {
		t.Fatalf("UpsertBalance() second call error = %v", err)
	}

	balances, err := repo.Balances(ctx, []int64{def.ID})
	if err != nil {
		t.Fatalf("Balances() error = %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("got %d balances, want 1 (upsert, not insert)", len(balances))
	}
	if balances[0].TotalSaved.Cents != 6000 || balances[0].Month != 2 {
		t.Errorf("balance = %+v, want saved 6000 month 2", balances[0])
	}
}

func TestSQLiteRepository_CollectionVersion(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.CollectionVersion(ctx, services.CollectionDefinitions)
	if err != nil {
		t.Fatalf("CollectionVersion() error = %v", err)
	}
	if empty.Count != 0 {
		t.Errorf("empty collection count = %d, want 0", empty.Count)
	}

	if _, err := repo.CreateDefinition(ctx, testDefinition()); err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	after, err := repo.CollectionVersion(ctx, services.CollectionDefinitions)
	if err != nil {
		t.Fatalf("CollectionVersion() error = %v", err)
	}
	if after.Count != 1 {
		t.Errorf("count = %d, want 1", after.Count)
	}
	if after.String() == empty.String() {
		t.Error("signature did not change after insert")
	}

	if _, err := repo.CollectionVersion(ctx, "nonsense"); err == nil {
		t.Error("CollectionVersion(nonsense) = nil error, want failure")
	}
}

func TestSQLiteRepository_WorksWithObligationService(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	def, err := repo.CreateDefinition(ctx, core.Definition{
		Name:            "Waste collection",
		Amount:          core.NewMoney(12000),
		IntervalMonths:  4,
		FirstOccurrence: core.NewDate(2025, 2, 10),
		LeadTimeMonths:  1,
		Saving:          core.SavingStrategy{Type: core.SavingEvenlyDistributed},
	})
	if err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	reference := core.NewDate(2025, 1, 15)
	seed := services.SeedDate(def, nil)
	targets, err := services.GenerateSchedule(def, seed, reference, 12, nil)
	if err != nil {
		t.Fatalf("GenerateSchedule() error = %v", err)
	}

	merged := services.MergeOccurrences(def, nil, targets, reference)
	if err := repo.ApplySyncBatch(ctx, services.SyncBatch{
		DefinitionID: def.ID,
		Create:       merged.Create,
	}); err != nil {
		t.Fatalf("ApplySyncBatch() error = %v", err)
	}

	occurrences, err := repo.Occurrences(ctx, def.ID)
	if err != nil {
		t.Fatalf("Occurrences() error = %v", err)
	}
	// Feb 10, Jun 10, Oct 10 fall within 12 months of Jan 15.
	if len(occurrences) != 3 {
		t.Fatalf("stored %d occurrences, want 3", len(occurrences))
	}
}
