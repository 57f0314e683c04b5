// Package retention implements the Matcher (C3) and RetentionPlanner (C4)
// components: parsing retention policy expressions, evaluating whether a
// snapshot matches a rule as of a given "now", and deciding per-snapshot
// keep/discard via the rule-based and time-bucket policies.
package retention

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// clause is one parsed grammar alternative from spec.md §4.3.
type clause interface {
	match(now time.Time, snap snapshotView) bool
	String() string
}

// snapshotView is the subset of pool.Snapshot the matcher needs, kept
// narrow so tests can construct matcher inputs without a full Volume.
type snapshotView struct {
	Name     string
	Creation time.Time
}

func viewOf(s *pool.Snapshot) snapshotView {
	return snapshotView{Name: s.Name, Creation: s.Creation}
}

// Matcher is a parsed retention policy expression: one or more grammar
// alternatives joined by the literal conjunction " and ". A snapshot
// matches the Matcher iff it matches every clause.
type Matcher struct {
	raw     string
	clauses []clause
}

// Parse compiles a retention policy expression. Unknown forms are a
// configuration error per spec.md §4.3 ("abort the run").
func Parse(expr string) (*Matcher, error) {
	parts := strings.Split(expr, " and ")
	m := &Matcher{raw: expr}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("retention expression %q: empty clause", expr)
		}
		c, err := parseClause(p)
		if err != nil {
			return nil, fmt.Errorf("retention expression %q: %w", expr, err)
		}
		m.clauses = append(m.clauses, c)
	}
	return m, nil
}

// Match reports whether snap matches every clause of the expression, as of
// now. now is supplied by the caller (never read from a clock internally)
// to keep matching deterministic in tests, per spec.md §4.3.
func (m *Matcher) Match(now time.Time, snap *pool.Snapshot) bool {
	view := viewOf(snap)
	for _, c := range m.clauses {
		if !c.match(now, view) {
			return false
		}
	}
	return true
}

func (m *Matcher) String() string { return m.raw }

var (
	reHours       = regexp.MustCompile(`^(\d+)\s+hours?$`)
	reDays        = regexp.MustCompile(`^(\d+)\s+days?$`)
	reWeeks       = regexp.MustCompile(`^(\d+)\s+weeks?$`)
	reSuffix      = regexp.MustCompile(`^@(.+)$`)
	reNthWeekday  = regexp.MustCompile(`^(\d+)\s+(\d+)(?:st|nd|rd|th)\s+(\w+)\s+of\s+the\s+month$`)
	reNthDayMonth = regexp.MustCompile(`^(\d+)\s+(\d+)(?:st|nd|rd|th)\s+day\s+of\s+the\s+month$`)
	reNthDayQtr   = regexp.MustCompile(`^(\d+)\s+(\d+)(?:st|nd|rd|th)\s+day\s+of\s+the\s+quarter$`)
	reNWeekday    = regexp.MustCompile(`^(\d+)\s+(\w+?)s?$`)
)

func parseClause(expr string) (clause, error) {
	switch expr {
	case "all":
		return allClause{}, nil
	case "none":
		return noneClause{}, nil
	}

	if g := reSuffix.FindStringSubmatch(expr); g != nil {
		return suffixClause{suffix: g[1]}, nil
	}

	if g := reNthWeekday.FindStringSubmatch(expr); g != nil {
		if wd, ok := weekdayNames[strings.ToLower(g[3])]; ok {
			n := atoi(g[1])
			k := atoi(g[2])
			return nthWeekdayOfMonthClause{n: n, k: k, weekday: wd}, nil
		}
	}

	if g := reNthDayMonth.FindStringSubmatch(expr); g != nil {
		return nthDayOfMonthClause{n: atoi(g[1]), k: atoi(g[2])}, nil
	}

	if g := reNthDayQtr.FindStringSubmatch(expr); g != nil {
		return nthDayOfQuarterClause{n: atoi(g[1]), k: atoi(g[2])}, nil
	}

	if g := reHours.FindStringSubmatch(expr); g != nil {
		return hoursClause{n: atoi(g[1])}, nil
	}
	if g := reDays.FindStringSubmatch(expr); g != nil {
		return daysClause{n: atoi(g[1])}, nil
	}
	if g := reWeeks.FindStringSubmatch(expr); g != nil {
		return weeksClause{n: atoi(g[1])}, nil
	}

	if g := reNWeekday.FindStringSubmatch(expr); g != nil {
		if wd, ok := weekdayNames[strings.ToLower(g[2])]; ok {
			return weekdayClause{n: atoi(g[1]), weekday: wd}, nil
		}
	}

	return nil, fmt.Errorf("unrecognized retention form %q", expr)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

type allClause struct{}

func (allClause) match(time.Time, snapshotView) bool { return true }
func (allClause) String() string                     { return "all" }

type noneClause struct{}

func (noneClause) match(time.Time, snapshotView) bool { return false }
func (noneClause) String() string                     { return "none" }

type suffixClause struct{ suffix string }

func (c suffixClause) match(_ time.Time, s snapshotView) bool {
	idx := strings.LastIndexByte(s.Name, '@')
	if idx < 0 {
		return false
	}
	return s.Name[idx+1:] == c.suffix
}
func (c suffixClause) String() string { return "@" + c.suffix }

type hoursClause struct{ n int }

func (c hoursClause) match(now time.Time, s snapshotView) bool {
	return !s.Creation.Before(now.Add(-time.Duration(c.n) * time.Hour))
}
func (c hoursClause) String() string { return fmt.Sprintf("%d hours", c.n) }

type daysClause struct{ n int }

func (c daysClause) match(now time.Time, s snapshotView) bool {
	return !dateOnly(s.Creation).Before(dateOnly(now).AddDate(0, 0, -c.n))
}
func (c daysClause) String() string { return fmt.Sprintf("%d days", c.n) }

type weeksClause struct{ n int }

func (c weeksClause) match(now time.Time, s snapshotView) bool {
	return !dateOnly(s.Creation).Before(dateOnly(now).AddDate(0, 0, -7*c.n))
}
func (c weeksClause) String() string { return fmt.Sprintf("%d weeks", c.n) }

type weekdayClause struct {
	n       int
	weekday time.Weekday
}

func (c weekdayClause) match(now time.Time, s snapshotView) bool {
	if s.Creation.Weekday() != c.weekday {
		return false
	}
	return !dateOnly(s.Creation).Before(dateOnly(now).AddDate(0, 0, -7*c.n))
}
func (c weekdayClause) String() string { return fmt.Sprintf("%d %ss", c.n, strings.ToLower(c.weekday.String())) }

// kthOccurrenceInMonth returns which occurrence (1-5) of weekday t's day
// represents within t's month, i.e. ceil(day/7) capped at 5 — but only
// meaningful when t.Weekday()==weekday; callers must check that first.
func kthOccurrenceInMonth(t time.Time) int {
	k := (t.Day()-1)/7 + 1
	if k > 5 {
		k = 5
	}
	return k
}

// nthWeekdayDateInMonth returns the date of the K-th occurrence of weekday
// within the given year/month, or the zero time if the month doesn't have
// that many occurrences.
func nthWeekdayDateInMonth(year int, month time.Month, weekday time.Weekday, k int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	day := 1 + offset + 7*(k-1)
	candidate := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if candidate.Month() != month {
		return time.Time{}
	}
	return candidate
}

type nthWeekdayOfMonthClause struct {
	n       int
	k       int
	weekday time.Weekday
}

func (c nthWeekdayOfMonthClause) match(now time.Time, s snapshotView) bool {
	if s.Creation.Weekday() != c.weekday {
		return false
	}
	if kthOccurrenceInMonth(s.Creation) != c.k {
		return false
	}

	monthsAgo := (now.Year()-s.Creation.Year())*12 + int(now.Month()-s.Creation.Month())
	if monthsAgo < 0 {
		return false
	}

	thisMonthOccurrence := nthWeekdayDateInMonth(now.Year(), now.Month(), c.weekday, c.k, now.Location())
	effectiveN := c.n
	if thisMonthOccurrence.IsZero() || thisMonthOccurrence.After(now) {
		effectiveN = c.n - 1
	}
	return monthsAgo < effectiveN
}

func (c nthWeekdayOfMonthClause) String() string {
	return fmt.Sprintf("%d %dth %s of the month", c.n, c.k, strings.ToLower(c.weekday.String()))
}

type nthDayOfMonthClause struct {
	n int
	k int
}

func (c nthDayOfMonthClause) match(now time.Time, s snapshotView) bool {
	if s.Creation.Day() != c.k {
		return false
	}
	monthsAgo := (now.Year()-s.Creation.Year())*12 + int(now.Month()-s.Creation.Month())
	return monthsAgo >= 0 && monthsAgo < c.n
}

func (c nthDayOfMonthClause) String() string { return fmt.Sprintf("%d %dth day of the month", c.n, c.k) }

type nthDayOfQuarterClause struct {
	n int
	k int
}

func (c nthDayOfQuarterClause) match(now time.Time, s snapshotView) bool {
	if s.Creation.Day() != c.k {
		return false
	}
	if (int(s.Creation.Month())-1)%3 != 0 {
		return false
	}
	nowQuarter := (now.Year())*4 + (int(now.Month())-1)/3
	snapQuarter := (s.Creation.Year())*4 + (int(s.Creation.Month())-1)/3
	quartersAgo := nowQuarter - snapQuarter
	return quartersAgo >= 0 && quartersAgo < c.n
}

func (c nthDayOfQuarterClause) String() string {
	return fmt.Sprintf("%d %dth day of the quarter", c.n, c.k)
}
