package services

import (
	"sort"
	"time"

	"scadenze/internal/core"
)

// SyncResult is the outcome of merging generated targets into an existing
// occurrence collection. Final is the full replacement collection; Create,
// Update and Delete are the write batch the repository must apply in a
// single transaction.
type SyncResult struct {
	Final  []core.Occurrence
	Create []core.Occurrence
	Update []core.Occurrence
	Delete []int64
}

// MergeOccurrences reconciles targets against the definition's current
// occurrences. Completed and cancelled records are locked: they are carried
// into the final collection byte-for-byte and never matched, re-dated,
// re-amounted or deleted. Editable occurrences matching a target on the same
// calendar day are updated in place; targets without a match become new
// occurrences; editable occurrences left unmatched are deleted.
//
// Running the merge twice with the same reference date and targets yields
// the same final collection.
func MergeOccurrences(def core.Definition, existing []core.Occurrence, targets []core.ScheduleTarget, reference core.Date) SyncResult {
	var locked, editable []core.Occurrence
	for _, o := range existing {
		if o.Locked() {
			locked = append(locked, o)
		} else {
			editable = append(editable, o)
		}
	}

	stamp := reference.Time
	var result SyncResult

	for _, target := range targets {
		idx := -1
		for i, o := range editable {
			if o.ScheduledDate.SameDay(target.ScheduledDate) {
				idx = i
				break
			}
		}

		if idx < 0 {
			result.Create = append(result.Create, core.Occurrence{
				DefinitionID:   def.ID,
				ScheduledDate:  target.ScheduledDate,
				ExpectedAmount: target.ExpectedAmount,
				Status:         ResolveStatus(target.ScheduledDate, reference, def.LeadTimeMonths),
				UpdatedAt:      stamp,
			})
			continue
		}

		matched := editable[idx]
		editable = append(editable[:idx], editable[idx+1:]...)

		matched.ExpectedAmount = target.ExpectedAmount
		matched.ScheduledDate = target.ScheduledDate
		matched.Status = ResolveStatus(target.ScheduledDate, reference, def.LeadTimeMonths)
		matched.UpdatedAt = stamp
		result.Update = append(result.Update, matched)
	}

	// Whatever editable occurrences remain describe forecast dates that no
	// longer exist, e.g. after an interval or pattern edit.
	for _, o := range editable {
		result.Delete = append(result.Delete, o.ID)
	}

	result.Final = make([]core.Occurrence, 0, len(result.Update)+len(result.Create)+len(locked))
	result.Final = append(result.Final, result.Update...)
	result.Final = append(result.Final, result.Create...)
	result.Final = append(result.Final, locked...)
	sortOccurrences(result.Final)

	return result
}

func sortOccurrences(occurrences []core.Occurrence) {
	sort.SliceStable(occurrences, func(i, j int) bool {
		a, b := occurrences[i], occurrences[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate.Time) {
			return a.ScheduledDate.Before(b.ScheduledDate.Time)
		}
		return a.ID < b.ID
	})
}

// SyncSummary reports one synchronization pass.
type SyncSummary struct {
	SyncedAt time.Time
	Created  int
	Updated  int
	Deleted  int
}
