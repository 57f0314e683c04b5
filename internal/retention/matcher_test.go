package retention

import (
	"testing"
	"time"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
)

func snap(name string, creation time.Time) *pool.Snapshot {
	return &pool.Snapshot{Name: name, Creation: creation}
}

func TestMatcherForms(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, loc)

	tests := []struct {
		name     string
		expr     string
		creation time.Time
		snapName string
		want     bool
	}{
		{name: "all always matches", expr: "all", creation: now.AddDate(-10, 0, 0), want: true},
		{name: "none never matches", expr: "none", creation: now, want: false},
		{name: "3 hours within window", expr: "3 hours", creation: now.Add(-2 * time.Hour), want: true},
		{name: "3 hours outside window", expr: "3 hours", creation: now.Add(-4 * time.Hour), want: false},
		{name: "2 days within window", expr: "2 days", creation: now.AddDate(0, 0, -2), want: true},
		{name: "2 days outside window", expr: "2 days", creation: now.AddDate(0, 0, -3), want: false},
		{name: "1 week within window", expr: "1 week", creation: now.AddDate(0, 0, -6), want: true},
		{name: "1 week outside window", expr: "1 week", creation: now.AddDate(0, 0, -8), want: false},
		{name: "suffix match", expr: "@pinned", creation: now, snapName: "backup2024-01-15T09.00.00@pinned", want: true},
		{name: "suffix mismatch", expr: "@pinned", creation: now, snapName: "backup2024-01-15T09.00.00@other", want: false},
		{name: "conjunction both must hold", expr: "@pinned and 1 week", creation: now.AddDate(0, 0, -1), snapName: "x@pinned", want: true},
		{name: "conjunction fails on second clause", expr: "@pinned and 1 week", creation: now.AddDate(0, 0, -10), snapName: "x@pinned", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.expr, err)
			}
			name := tt.snapName
			if name == "" {
				name = pool.FormatSnapshotName(tt.creation)
			}
			got := m.Match(now, snap(name, tt.creation))
			if got != tt.want {
				t.Errorf("Match(%q, creation=%v) = %v, want %v", tt.expr, tt.creation, got, tt.want)
			}
		})
	}
}

func TestMatcherWeekday(t *testing.T) {
	now := time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC) // Wednesday
	m, err := Parse("2 wednesdays")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	wednesdayLastWeek := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	if !m.Match(now, snap(pool.FormatSnapshotName(wednesdayLastWeek), wednesdayLastWeek)) {
		t.Error("expected last Wednesday to match within 2-week window")
	}

	tuesday := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	if m.Match(now, snap(pool.FormatSnapshotName(tuesday), tuesday)) {
		t.Error("Tuesday must not match a Wednesday-only rule")
	}
}

func TestMatcherNthWeekdayOfMonth(t *testing.T) {
	// First Monday of January 2024 is the 1st.
	m, err := Parse("2 1st monday of the month")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	now := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
	firstMondayJan := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !m.Match(now, snap(pool.FormatSnapshotName(firstMondayJan), firstMondayJan)) {
		t.Error("expected first Monday of January to match within 2-month window")
	}

	secondMondayJan := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if m.Match(now, snap(pool.FormatSnapshotName(secondMondayJan), secondMondayJan)) {
		t.Error("second Monday must not match a 1st-Monday rule")
	}
}

func TestMatcherNthDayOfQuarter(t *testing.T) {
	m, err := Parse("1 1st day of the quarter")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !m.Match(now, snap(pool.FormatSnapshotName(jan1), jan1)) {
		t.Error("Jan 1 is the first day of Q1 and should match")
	}

	feb1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if m.Match(now, snap(pool.FormatSnapshotName(feb1), feb1)) {
		t.Error("Feb is not the first month of its quarter")
	}
}

func TestMatcherUnknownFormIsConfigError(t *testing.T) {
	if _, err := Parse("some nonsense"); err == nil {
		t.Error("expected an error for an unrecognized retention form")
	}
}

// TestMatcherPeriodAdvanceInvariant exercises P5: for a period-based form, a
// snapshot created at time t evaluates identically when now and the
// snapshot's creation both advance by the same whole period.
func TestMatcherPeriodAdvanceInvariant(t *testing.T) {
	m, err := Parse("5 days")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	creation := now.AddDate(0, 0, -3)
	base := m.Match(now, snap(pool.FormatSnapshotName(creation), creation))

	advance := 10 * 24 * time.Hour
	advancedNow := now.Add(advance)
	advancedCreation := creation.Add(advance)
	advanced := m.Match(advancedNow, snap(pool.FormatSnapshotName(advancedCreation), advancedCreation))

	if base != advanced {
		t.Errorf("period-advance invariant violated: base=%v advanced=%v", base, advanced)
	}
}
