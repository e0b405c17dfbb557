package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scadenze/internal/cache"
	"scadenze/internal/core"
	"scadenze/internal/services"
)

// MemoryRepository is an in-memory implementation of the services.Repository
// port, used by tests and as a scratch backend. FailWrites makes every write
// return an error so callers can verify that nothing is partially applied.
type MemoryRepository struct {
	mu           sync.Mutex
	nextID       int64
	definitions  map[int64]core.Definition
	occurrences  map[int64]core.Occurrence
	balances     map[int64]core.SavingBalance
	transactions map[int64]core.Transaction
	categories   map[int64]core.Category

	FailWrites bool
}

var _ services.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextID:       1,
		definitions:  make(map[int64]core.Definition),
		occurrences:  make(map[int64]core.Occurrence),
		balances:     make(map[int64]core.SavingBalance),
		transactions: make(map[int64]core.Transaction),
		categories:   make(map[int64]core.Category),
	}
}

func (r *MemoryRepository) id() int64 {
	id := r.nextID
	r.nextID++
	return id
}

// PutDefinition stores a definition, assigning an id when missing.
func (r *MemoryRepository) PutDefinition(def core.Definition) core.Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.ID == 0 {
		def.ID = r.id()
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = time.Now().UTC()
	}
	r.definitions[def.ID] = def
	return def
}

// PutOccurrence stores an occurrence, assigning an id when missing.
func (r *MemoryRepository) PutOccurrence(occ core.Occurrence) core.Occurrence {
	r.mu.Lock()
	defer r.mu.Unlock()
	if occ.ID == 0 {
		occ.ID = r.id()
	}
	r.occurrences[occ.ID] = occ
	return occ
}

// PutBalance stores a saving balance.
func (r *MemoryRepository) PutBalance(b core.SavingBalance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	r.balances[b.DefinitionID] = b
}

// PutTransaction stores a transaction, assigning an id when missing.
func (r *MemoryRepository) PutTransaction(t core.Transaction) core.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == 0 {
		t.ID = r.id()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	r.transactions[t.ID] = t
	return t
}

// PutCategory stores a category, assigning an id when missing.
func (r *MemoryRepository) PutCategory(c core.Category) core.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == 0 {
		c.ID = r.id()
	}
	r.categories[c.ID] = c
	return c
}

func (r *MemoryRepository) Definition(_ context.Context, id int64) (core.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.definitions[id]
	if !ok {
		return core.Definition{}, fmt.Errorf("definition %d: %w", id, core.ErrNotFound)
	}
	return def, nil
}

func (r *MemoryRepository) Definitions(_ context.Context) ([]core.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defs := make([]core.Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	return defs, nil
}

func (r *MemoryRepository) Occurrence(_ context.Context, id int64) (core.Occurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	occ, ok := r.occurrences[id]
	if !ok {
		return core.Occurrence{}, fmt.Errorf("occurrence %d: %w", id, core.ErrNotFound)
	}
	return occ, nil
}

func (r *MemoryRepository) Occurrences(_ context.Context, definitionID int64) ([]core.Occurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var occurrences []core.Occurrence
	for _, occ := range r.occurrences {
		if occ.DefinitionID == definitionID {
			occurrences = append(occurrences, occ)
		}
	}
	return occurrences, nil
}

func (r *MemoryRepository) Balances(_ context.Context, definitionIDs []int64) ([]core.SavingBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var balances []core.SavingBalance
	for _, id := range definitionIDs {
		if b, ok := r.balances[id]; ok {
			balances = append(balances, b)
		}
	}
	return balances, nil
}

func (r *MemoryRepository) Transactions(_ context.Context) ([]core.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transactions := make([]core.Transaction, 0, len(r.transactions))
	for _, t := range r.transactions {
		transactions = append(transactions, t)
	}
	return transactions, nil
}

func (r *MemoryRepository) Categories(_ context.Context) ([]core.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	categories := make([]core.Category, 0, len(r.categories))
	for _, c := range r.categories {
		categories = append(categories, c)
	}
	return categories, nil
}

func (r *MemoryRepository) LinkedTransactions(_ context.Context) (map[int64]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	links := make(map[int64]int64)
	for _, occ := range r.occurrences {
		if occ.TransactionID != nil {
			links[*occ.TransactionID] = occ.ID
		}
	}
	return links, nil
}

func (r *MemoryRepository) ApplySyncBatch(_ context.Context, batch services.SyncBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return fmt.Errorf("sync batch: simulated persistence failure")
	}

	// All-or-nothing like the SQLite transaction.
	for _, id := range batch.Delete {
		delete(r.occurrences, id)
	}
	for _, occ := range batch.Update {
		r.occurrences[occ.ID] = occ
	}
	for _, occ := range batch.Create {
		occ.ID = r.id()
		r.occurrences[occ.ID] = occ
	}
	return nil
}

func (r *MemoryRepository) UpdateOccurrence(_ context.Context, occ core.Occurrence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return fmt.Errorf("update occurrence: simulated persistence failure")
	}
	if _, ok := r.occurrences[occ.ID]; !ok {
		return fmt.Errorf("occurrence %d: %w", occ.ID, core.ErrNotFound)
	}
	r.occurrences[occ.ID] = occ
	return nil
}

func (r *MemoryRepository) DeleteDefinition(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return fmt.Errorf("delete definition: simulated persistence failure")
	}
	if _, ok := r.definitions[id]; !ok {
		return fmt.Errorf("definition %d: %w", id, core.ErrNotFound)
	}
	delete(r.definitions, id)
	for occID, occ := range r.occurrences {
		if occ.DefinitionID == id {
			delete(r.occurrences, occID)
		}
	}
	delete(r.balances, id)
	return nil
}

func (r *MemoryRepository) CollectionVersion(_ context.Context, collection string) (cache.Signature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sig cache.Signature
	switch collection {
	case services.CollectionDefinitions:
		for _, def := range r.definitions {
			sig.Count++
			if def.UpdatedAt.After(sig.LastUpdated) {
				sig.LastUpdated = def.UpdatedAt
			}
		}
	case services.CollectionOccurrences:
		for _, occ := range r.occurrences {
			sig.Count++
			if occ.UpdatedAt.After(sig.LastUpdated) {
				sig.LastUpdated = occ.UpdatedAt
			}
		}
	case services.CollectionBalances:
		for _, b := range r.balances {
			sig.Count++
			if b.UpdatedAt.After(sig.LastUpdated) {
				sig.LastUpdated = b.UpdatedAt
			}
		}
	case services.CollectionTransactions:
		for _, t := range r.transactions {
			sig.Count++
			if t.UpdatedAt.After(sig.LastUpdated) {
				sig.LastUpdated = t.UpdatedAt
			}
		}
	default:
		return cache.Signature{}, fmt.Errorf("unknown collection %q", collection)
	}
	return sig, nil
}
