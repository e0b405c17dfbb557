package services

import (
	"errors"
	"testing"

	"scadenze/internal/core"
)

func scheduleDefinition() core.Definition {
	return core.Definition{
		ID:              1,
		Name:            "Rent",
		Amount:          core.NewMoney(80000),
		IntervalMonths:  1,
		FirstOccurrence: core.NewDate(2025, 1, 1),
	}
}

func TestGenerateSchedule(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*core.Definition)
		seed      core.Date
		reference core.Date
		horizon   int
		wantDates []core.Date
		wantErr   error
	}{
		{
			name:      "monthly within horizon",
			seed:      core.NewDate(2025, 1, 1),
			reference: core.NewDate(2025, 1, 1),
			horizon:   2,
			wantDates: []core.Date{
				core.NewDate(2025, 1, 1),
				core.NewDate(2025, 2, 1),
				core.NewDate(2025, 3, 1),
			},
		},
		{
			name:      "annual interval yields seed only",
			mutate:    func(d *core.Definition) { d.IntervalMonths = 12 },
			seed:      core.NewDate(2025, 3, 15),
			reference: core.NewDate(2025, 1, 1),
			horizon:   6,
			wantDates: []core.Date{core.NewDate(2025, 3, 15)},
		},
		{
			name:      "seed beyond horizon yields nothing",
			seed:      core.NewDate(2026, 6, 1),
			reference: core.NewDate(2025, 1, 1),
			horizon:   3,
			wantDates: nil,
		},
		{
			name:      "zero horizon includes reference day",
			seed:      core.NewDate(2025, 1, 1),
			reference: core.NewDate(2025, 1, 1),
			horizon:   0,
			wantDates: []core.Date{core.NewDate(2025, 1, 1)},
		},
		{
			name:      "month end anchor does not drift after february",
			seed:      core.NewDate(2025, 1, 31),
			reference: core.NewDate(2025, 1, 1),
			horizon:   3,
			wantDates: []core.Date{
				core.NewDate(2025, 1, 31),
				core.NewDate(2025, 2, 28),
				core.NewDate(2025, 3, 31),
			},
		},
		{
			name:      "previous business day rolls saturday back",
			mutate:    func(d *core.Definition) { d.Adjustment = core.AdjustPreviousBusinessDay },
			seed:      core.NewDate(2025, 2, 1), // Saturday
			reference: core.NewDate(2025, 2, 1),
			horizon:   0,
			wantDates: []core.Date{core.NewDate(2025, 1, 31)}, // Friday
		},
		{
			name:      "next business day rolls saturday forward",
			mutate:    func(d *core.Definition) { d.Adjustment = core.AdjustNextBusinessDay },
			seed:      core.NewDate(2025, 2, 1), // Saturday
			reference: core.NewDate(2025, 2, 1),
			horizon:   0,
			wantDates: []core.Date{core.NewDate(2025, 2, 3)}, // Monday
		},
		{
			name:      "day pattern pins the fifteenth",
			mutate:    func(d *core.Definition) { d.DayPattern = "day:15" },
			seed:      core.NewDate(2025, 1, 1),
			reference: core.NewDate(2025, 1, 1),
			horizon:   1,
			wantDates: []core.Date{
				core.NewDate(2025, 1, 15),
				core.NewDate(2025, 2, 15),
			},
		},
		{
			name:      "day pattern clamps to month length",
			mutate:    func(d *core.Definition) { d.DayPattern = "day:31" },
			seed:      core.NewDate(2025, 2, 1),
			reference: core.NewDate(2025, 2, 1),
			horizon:   0,
			wantDates: []core.Date{core.NewDate(2025, 2, 28)},
		},
		{
			name:      "last business day of month",
			mutate:    func(d *core.Definition) { d.DayPattern = "lastBusinessDay" },
			seed:      core.NewDate(2025, 8, 1),
			reference: core.NewDate(2025, 8, 1),
			horizon:   0,
			wantDates: []core.Date{core.NewDate(2025, 8, 29)}, // Aug 31 2025 is Sunday
		},
		{
			name:      "zero interval rejected",
			mutate:    func(d *core.Definition) { d.IntervalMonths = 0 },
			seed:      core.NewDate(2025, 1, 1),
			reference: core.NewDate(2025, 1, 1),
			horizon:   2,
			wantErr:   core.ErrInvalidRecurrence,
		},
		{
			name:      "negative horizon rejected",
			seed:      core.NewDate(2025, 1, 1),
			reference: core.NewDate(2025, 1, 1),
			horizon:   -1,
			wantErr:   core.ErrInvalidHorizon,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := scheduleDefinition()
			if tt.mutate != nil {
				tt.mutate(&def)
			}

			targets, err := GenerateSchedule(def, tt.seed, tt.reference, tt.horizon, WeekendCalendar{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("GenerateSchedule() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateSchedule() error = %v", err)
			}

			if len(targets) != len(tt.wantDates) {
				t.Fatalf("GenerateSchedule() returned %d targets, want %d", len(targets), len(tt.wantDates))
			}
			for i, want := range tt.wantDates {
				if !targets[i].ScheduledDate.SameDay(want) {
					t.Errorf("target[%d].ScheduledDate = %s, want %s",
						i, targets[i].ScheduledDate.Format("2006-01-02"), want.Format("2006-01-02"))
				}
				if targets[i].ExpectedAmount != def.Amount {
					t.Errorf("target[%d].ExpectedAmount = %v, want %v", i, targets[i].ExpectedAmount, def.Amount)
				}
			}
		})
	}
}

func TestGenerateSchedule_InvalidDayPattern(t *testing.T) {
	def := scheduleDefinition()
	def.DayPattern = "day:40"

	_, err := GenerateSchedule(def, core.NewDate(2025, 1, 1), core.NewDate(2025, 1, 1), 1, WeekendCalendar{})
	if err == nil {
		t.Fatal("GenerateSchedule() = nil error, want invalid day pattern error")
	}
}

func TestResolveStatus(t *testing.T) {
	reference := core.NewDate(2025, 1, 15)

	tests := []struct {
		name      string
		scheduled core.Date
		leadTime  int
		want      core.OccurrenceStatus
	}{
		{"inside lead window", core.NewDate(2025, 2, 10), 2, core.StatusSaving},
		{"exactly on boundary day", core.NewDate(2025, 3, 15), 2, core.StatusSaving},
		{"one day past boundary", core.NewDate(2025, 3, 16), 2, core.StatusPlanned},
		{"far future", core.NewDate(2026, 1, 1), 2, core.StatusPlanned},
		{"zero lead time same day", core.NewDate(2025, 1, 15), 0, core.StatusSaving},
		{"zero lead time tomorrow", core.NewDate(2025, 1, 16), 0, core.StatusPlanned},
		{"already past", core.NewDate(2024, 12, 1), 0, core.StatusSaving},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveStatus(tt.scheduled, reference, tt.leadTime); got != tt.want {
				t.Errorf("ResolveStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeedDate(t *testing.T) {
	def := scheduleDefinition()
	def.IntervalMonths = 3

	completed := func(id int64, scheduled core.Date, actual *core.Date) core.Occurrence {
		return core.Occurrence{
			ID:            id,
			DefinitionID:  def.ID,
			ScheduledDate: scheduled,
			Status:        core.StatusCompleted,
			ActualDate:    actual,
		}
	}
	actual := core.NewDate(2025, 4, 3)

	tests := []struct {
		name        string
		occurrences []core.Occurrence
		want        core.Date
	}{
		{
			name: "no occurrences falls back to first occurrence date",
			want: def.FirstOccurrence,
		},
		{
			name: "only editable occurrences fall back too",
			occurrences: []core.Occurrence{
				{ID: 1, ScheduledDate: core.NewDate(2025, 4, 1), Status: core.StatusPlanned},
				{ID: 2, ScheduledDate: core.NewDate(2025, 7, 1), Status: core.StatusSaving},
			},
			want: def.FirstOccurrence,
		},
		{
			name: "latest completed advanced by one interval",
			occurrences: []core.Occurrence{
				completed(1, core.NewDate(2025, 1, 1), nil),
				completed(2, core.NewDate(2025, 4, 1), nil),
				{ID: 3, ScheduledDate: core.NewDate(2025, 7, 1), Status: core.StatusPlanned},
			},
			want: core.NewDate(2025, 7, 1),
		},
		{
			name: "actual date wins over scheduled date",
			occurrences: []core.Occurrence{
				completed(1, core.NewDate(2025, 4, 1), &actual),
			},
			want: core.NewDate(2025, 7, 3),
		},
		{
			name: "cancelled occurrences do not anchor",
			occurrences: []core.Occurrence{
				completed(1, core.NewDate(2025, 1, 1), nil),
				{ID: 2, ScheduledDate: core.NewDate(2025, 4, 1), Status: core.StatusCancelled},
			},
			want: core.NewDate(2025, 4, 1),
		},
		{
			name: "same day tie goes to the higher id",
			occurrences: []core.Occurrence{
				completed(3, core.NewDate(2025, 4, 1), nil),
				completed(7, core.NewDate(2025, 4, 1), nil),
			},
			want: core.NewDate(2025, 7, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SeedDate(def, tt.occurrences)
			if !got.SameDay(tt.want) {
				t.Errorf("SeedDate() = %s, want %s",
					got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}
