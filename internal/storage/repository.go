// Package storage persists the engine's collections in SQLite and exposes
// them through the services.Repository port. An in-memory implementation of
// the same port lives in memory.go for tests.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"scadenze/internal/cache"
	"scadenze/internal/core"
	"scadenze/internal/services"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ services.Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const definitionColumns = `id, name, amount_cents, interval_months, first_occurrence,
	lead_time_months, category_id, saving_strategy, saving_custom_cents,
	adjustment_policy, day_pattern, updated_at`

func (r *SQLiteRepository) Definition(ctx context.Context, id int64) (core.Definition, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Definition{}, fmt.Errorf("definition %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Definition{}, fmt.Errorf("get definition: %w", err)
	}
	return def, nil
}

func (r *SQLiteRepository) Definitions(ctx context.Context) ([]core.Definition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+definitionColumns+` FROM definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []core.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// CreateDefinition inserts a definition and returns it with its new id.
func (r *SQLiteRepository) CreateDefinition(ctx context.Context, def core.Definition) (core.Definition, error) {
	def.UpdatedAt = time.Now().UTC()
	var customCents sql.NullInt64
	if def.Saving.CustomMonthly != nil {
		customCents = sql.NullInt64{Int64: def.Saving.CustomMonthly.Cents, Valid: true}
	}
	var categoryID sql.NullInt64
	if def.CategoryID != nil {
		categoryID = sql.NullInt64{Int64: *def.CategoryID, Valid: true}
	}
	adjustment := def.Adjustment
	if adjustment == "" {
		adjustment = core.AdjustNone
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO definitions (name, amount_cents, interval_months, first_occurrence,
			lead_time_months, category_id, saving_strategy, saving_custom_cents,
			adjustment_policy, day_pattern, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Name, def.Amount.Cents, def.IntervalMonths,
		def.FirstOccurrence.Format(dateLayout), def.LeadTimeMonths, categoryID,
		string(def.Saving.Type), customCents, string(adjustment), def.DayPattern,
		def.UpdatedAt.Format(timeLayout))
	if err != nil {
		return core.Definition{}, fmt.Errorf("create definition: %w", err)
	}
	def.ID, err = res.LastInsertId()
	if err != nil {
		return core.Definition{}, fmt.Errorf("definition insert id: %w", err)
	}
	return def, nil
}

// DeleteDefinition removes a definition; owned occurrences and balances go
// with it via ON DELETE CASCADE.
func (r *SQLiteRepository) DeleteDefinition(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete definition rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("definition %d: %w", id, core.ErrNotFound)
	}
	return nil
}

const occurrenceColumns = `id, definition_id, scheduled_date, expected_cents, status,
	actual_date, actual_cents, transaction_id, updated_at`

func (r *SQLiteRepository) Occurrence(ctx context.Context, id int64) (core.Occurrence, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+occurrenceColumns+` FROM occurrences WHERE id = ?`, id)
	occ, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Occurrence{}, fmt.Errorf("occurrence %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("get occurrence: %w", err)
	}
	return occ, nil
}

func (r *SQLiteRepository) Occurrences(ctx context.Context, definitionID int64) ([]core.Occurrence, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+occurrenceColumns+` FROM occurrences
		 WHERE definition_id = ? ORDER BY scheduled_date, id`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var occurrences []core.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		occurrences = append(occurrences, occ)
	}
	return occurrences, rows.Err()
}

// ApplySyncBatch writes one synchronization pass atomically: every create,
// update and delete shares a single transaction committed exactly once.
func (r *SQLiteRepository) ApplySyncBatch(ctx context.Context, batch services.SyncBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range batch.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM occurrences WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete occurrence %d: %w", id, err)
		}
	}

	for _, occ := range batch.Update {
		if err := execUpdateOccurrence(ctx, tx, occ); err != nil {
			return err
		}
	}

	for _, occ := range batch.Create {
		actualDate, actualCents, txnID := occurrenceNullables(occ)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO occurrences (definition_id, scheduled_date, expected_cents,
				status, actual_date, actual_cents, transaction_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			occ.DefinitionID, occ.ScheduledDate.Format(dateLayout),
			occ.ExpectedAmount.Cents, string(occ.Status), actualDate, actualCents,
			txnID, occ.UpdatedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("create occurrence for definition %d: %w", occ.DefinitionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync batch: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateOccurrence(ctx context.Context, occ core.Occurrence) error {
	return execUpdateOccurrence(ctx, r.db, occ)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execUpdateOccurrence(ctx context.Context, db execer, occ core.Occurrence) error {
	actualDate, actualCents, txnID := occurrenceNullables(occ)
	res, err := db.ExecContext(ctx, `
		UPDATE occurrences
		SET scheduled_date = ?, expected_cents = ?, status = ?, actual_date = ?,
			actual_cents = ?, transaction_id = ?, updated_at = ?
		WHERE id = ?`,
		occ.ScheduledDate.Format(dateLayout), occ.ExpectedAmount.Cents,
		string(occ.Status), actualDate, actualCents, txnID,
		occ.UpdatedAt.UTC().Format(timeLayout), occ.ID)
	if err != nil {
		return fmt.Errorf("update occurrence %d: %w", occ.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update occurrence rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("occurrence %d: %w", occ.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Balances(ctx context.Context, definitionIDs []int64) ([]core.SavingBalance, error) {
	if len(definitionIDs) == 0 {
		return nil, nil
	}

	query := `SELECT definition_id, total_saved_cents, total_paid_cents, year, month, updated_at
		FROM saving_balances WHERE definition_id IN (?` +
		repeat(",?", len(definitionIDs)-1) + `)`
	args := make([]any, len(definitionIDs))
	for i, id := range definitionIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []core.SavingBalance
	for rows.Next() {
		var (
			b       core.SavingBalance
			updated string
		)
		if err := rows.Scan(&b.DefinitionID, &b.TotalSaved.Cents, &b.TotalPaid.Cents,
			&b.Year, &b.Month, &updated); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		if b.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, fmt.Errorf("parse balance updated_at: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// UpsertBalance stores the saved/paid bookkeeping of a definition. The
// engine reads balances; the host's withdrawal accounting writes them here.
func (r *SQLiteRepository) UpsertBalance(ctx context.Context, b core.SavingBalance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO saving_balances (definition_id, total_saved_cents, total_paid_cents, year, month, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(definition_id) DO UPDATE SET
			total_saved_cents = excluded.total_saved_cents,
			total_paid_cents = excluded.total_paid_cents,
			year = excluded.year,
			month = excluded.month,
			updated_at = excluded.updated_at`,
		b.DefinitionID, b.TotalSaved.Cents, b.TotalPaid.Cents, b.Year, b.Month,
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Transactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, amount_cents, date, is_expense, include_in_calculations, updated_at
		FROM transactions ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []core.Transaction
	for rows.Next() {
		var (
			t             core.Transaction
			date, updated string
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Amount.Cents, &date,
			&t.Expense, &t.IncludeInCalculations, &updated); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parse transaction date: %w", err)
		}
		if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, fmt.Errorf("parse transaction updated_at: %w", err)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// CreateTransaction inserts a bank transaction record from the external feed.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (title, amount_cents, date, is_expense, include_in_calculations, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.Title, t.Amount.Cents, t.Date.Format(dateLayout), t.Expense,
		t.IncludeInCalculations, t.UpdatedAt.Format(timeLayout))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction insert id: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) Categories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateCategory inserts a category and returns it with its new id.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name, updated_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("category insert id: %w", err)
	}
	return core.Category{ID: id, Name: name}, nil
}

func (r *SQLiteRepository) LinkedTransactions(ctx context.Context) (map[int64]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT transaction_id, id FROM occurrences WHERE transaction_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list transaction links: %w", err)
	}
	defer rows.Close()

	links := make(map[int64]int64)
	for rows.Next() {
		var txnID, occID int64
		if err := rows.Scan(&txnID, &occID); err != nil {
			return nil, fmt.Errorf("scan transaction link: %w", err)
		}
		links[txnID] = occID
	}
	return links, rows.Err()
}

// CollectionVersion returns the cache signature of a collection: row count
// plus the newest updated_at. One cheap aggregate query per collection.
func (r *SQLiteRepository) CollectionVersion(ctx context.Context, collection string) (cache.Signature, error) {
	table, ok := map[string]string{
		services.CollectionDefinitions:  "definitions",
		services.CollectionOccurrences:  "occurrences",
		services.CollectionBalances:     "saving_balances",
		services.CollectionTransactions: "transactions",
	}[collection]
	if !ok {
		return cache.Signature{}, fmt.Errorf("unknown collection %q", collection)
	}

	var (
		sig     cache.Signature
		updated sql.NullString
	)
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(updated_at) FROM `+table)
	if err := row.Scan(&sig.Count, &updated); err != nil {
		return cache.Signature{}, fmt.Errorf("version %s: %w", collection, err)
	}
	if updated.Valid {
		t, err := time.Parse(timeLayout, updated.String)
		if err != nil {
			return cache.Signature{}, fmt.Errorf("parse %s max updated_at: %w", collection, err)
		}
		sig.LastUpdated = t
	}
	return sig, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (core.Definition, error) {
	var (
		def         core.Definition
		first       string
		categoryID  sql.NullInt64
		strategy    string
		customCents sql.NullInt64
		adjustment  string
		updated     string
	)
	err := row.Scan(&def.ID, &def.Name, &def.Amount.Cents, &def.IntervalMonths,
		&first, &def.LeadTimeMonths, &categoryID, &strategy, &customCents,
		&adjustment, &def.DayPattern, &updated)
	if err != nil {
		return core.Definition{}, err
	}

	if def.FirstOccurrence, err = parseDate(first); err != nil {
		return core.Definition{}, fmt.Errorf("parse first occurrence: %w", err)
	}
	if categoryID.Valid {
		id := categoryID.Int64
		def.CategoryID = &id
	}
	def.Saving.Type = core.SavingStrategyType(strategy)
	if customCents.Valid {
		m := core.NewMoney(customCents.Int64)
		def.Saving.CustomMonthly = &m
	}
	def.Adjustment = core.AdjustmentPolicy(adjustment)
	if def.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return core.Definition{}, fmt.Errorf("parse definition updated_at: %w", err)
	}
	return def, nil
}

func scanOccurrence(row rowScanner) (core.Occurrence, error) {
	var (
		occ         core.Occurrence
		scheduled   string
		status      string
		actualDate  sql.NullString
		actualCents sql.NullInt64
		txnID       sql.NullInt64
		updated     string
	)
	err := row.Scan(&occ.ID, &occ.DefinitionID, &scheduled, &occ.ExpectedAmount.Cents,
		&status, &actualDate, &actualCents, &txnID, &updated)
	if err != nil {
		return core.Occurrence{}, err
	}

	if occ.ScheduledDate, err = parseDate(scheduled); err != nil {
		return core.Occurrence{}, fmt.Errorf("parse scheduled date: %w", err)
	}
	occ.Status = core.OccurrenceStatus(status)
	if actualDate.Valid {
		d, err := parseDate(actualDate.String)
		if err != nil {
			return core.Occurrence{}, fmt.Errorf("parse actual date: %w", err)
		}
		occ.ActualDate = &d
	}
	if actualCents.Valid {
		m := core.NewMoney(actualCents.Int64)
		occ.ActualAmount = &m
	}
	if txnID.Valid {
		id := txnID.Int64
		occ.TransactionID = &id
	}
	if occ.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return core.Occurrence{}, fmt.Errorf("parse occurrence updated_at: %w", err)
	}
	return occ, nil
}

func occurrenceNullables(occ core.Occurrence) (actualDate sql.NullString, actualCents, txnID sql.NullInt64) {
	if occ.ActualDate != nil {
		actualDate = sql.NullString{String: occ.ActualDate.Format(dateLayout), Valid: true}
	}
	if occ.ActualAmount != nil {
		actualCents = sql.NullInt64{Int64: occ.ActualAmount.Cents, Valid: true}
	}
	if occ.TransactionID != nil {
		txnID = sql.NullInt64{Int64: *occ.TransactionID, Valid: true}
	}
	return actualDate, actualCents, txnID
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Date{}, err
	}
	return core.Date{Time: t}, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
