package services

import (
	"sort"
	"strings"

	"scadenze/internal/core"
)

// Score weights and acceptance bounds for transaction-to-occurrence
// matching. The amount tolerance is a currency-unit constant in cents
// (50.00); deployments in a differently-scaled currency change it here.
const (
	amountScoreWeight = 0.5
	dateScoreWeight   = 0.3
	titleScoreWeight  = 0.2

	acceptanceThreshold  = 0.2
	amountToleranceCents = 5000
)

// MatchParams bounds the candidate search.
type MatchParams struct {
	WindowDays int
	Limit      int
}

// DefaultMatchParams mirrors the configuration defaults.
func DefaultMatchParams() MatchParams {
	return MatchParams{WindowDays: 60, Limit: 5}
}

// Candidate pairs a transaction with its score against one occurrence.
type Candidate struct {
	Transaction core.Transaction
	Score       core.CandidateScore
}

// FindCandidates filters and ranks transactions that may settle the given
// occurrence. links maps transaction id to the occurrence it is already
// linked to; a transaction linked elsewhere is never offered, while the one
// linked to this occurrence is always included regardless of window or
// score.
func FindCandidates(occ core.Occurrence, def core.Definition, transactions []core.Transaction, links map[int64]int64, params MatchParams) []Candidate {
	if params.WindowDays <= 0 {
		params.WindowDays = DefaultMatchParams().WindowDays
	}
	if params.Limit <= 0 {
		params.Limit = DefaultMatchParams().Limit
	}

	var candidates []Candidate
	for _, txn := range transactions {
		linkedTo, linked := links[txn.ID]
		ownLink := linked && linkedTo == occ.ID
		if linked && !ownLink {
			continue
		}

		dayDiff := core.DaysBetween(occ.ScheduledDate, txn.Date)
		inWindow := txn.Expense && txn.IncludeInCalculations && dayDiff <= params.WindowDays
		if !inWindow && !ownLink {
			continue
		}

		score := scoreCandidate(occ, def, txn, dayDiff, params.WindowDays)
		accepted := score.Total >= acceptanceThreshold ||
			score.TitleMatched ||
			score.AmountDiff.Cents <= amountToleranceCents
		if !accepted && !ownLink {
			continue
		}

		candidates = append(candidates, Candidate{Transaction: txn, Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Score, candidates[j].Score
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.AmountDiff.Cents != b.AmountDiff.Cents {
			return a.AmountDiff.Cents < b.AmountDiff.Cents
		}
		return a.DayDiff < b.DayDiff
	})

	if len(candidates) > params.Limit {
		candidates = candidates[:params.Limit]
	}
	return candidates
}

func scoreCandidate(occ core.Occurrence, def core.Definition, txn core.Transaction, dayDiff, windowDays int) core.CandidateScore {
	amountDiff := txn.Amount.Sub(occ.ExpectedAmount).Abs()

	var amountScore float64
	switch {
	case occ.ExpectedAmount.IsZero() && amountDiff.IsZero():
		amountScore = 1
	case occ.ExpectedAmount.IsZero():
		amountScore = 0
	default:
		amountScore = 1 - clamp01(float64(amountDiff.Cents)/float64(occ.ExpectedAmount.Cents))
	}

	dateScore := 1 - clamp01(float64(dayDiff)/float64(windowDays))

	titleMatched := titleMatches(def.Name, txn.Title)
	titleScore := 0.0
	if titleMatched {
		titleScore = 1
	}

	total := clamp01(amountScore*amountScoreWeight + dateScore*dateScoreWeight + titleScore*titleScoreWeight)

	return core.CandidateScore{
		Total:        total,
		AmountDiff:   amountDiff,
		DayDiff:      dayDiff,
		TitleMatched: titleMatched,
	}
}

// titleMatches reports a case-insensitive substring hit in either direction.
// Empty names never match.
func titleMatches(name, title string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	title = strings.ToLower(strings.TrimSpace(title))
	if name == "" || title == "" {
		return false
	}
	return strings.Contains(title, name) || strings.Contains(name, title)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
