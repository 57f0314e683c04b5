package retention

import (
	"testing"
	"time"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
)

func buildVolume(now time.Time, days int) *pool.Volume {
	v := &pool.Volume{Name: "vm-100"}
	for i := 0; i < days; i++ {
		c := now.AddDate(0, 0, -i)
		v.Snapshots = append(v.Snapshots, &pool.Snapshot{
			Name:     pool.FormatSnapshotName(c),
			Creation: c,
			HasTime:  true,
		})
	}
	v.SortSnapshots()
	return v
}

// TestPlannerBucketCapacityScenario exercises P4 (each bucket contains at
// most its configured count plus the mandatory set) against spec.md
// scenario 4's 40-daily-snapshots/"10d" setup.
func TestPlannerBucketCapacityScenario(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	v := buildVolume(now, 40)

	buckets, err := ParseBucketPolicy("10d")
	if err != nil {
		t.Fatalf("ParseBucketPolicy: %v", err)
	}
	planner := &Planner{Buckets: buckets}
	plan := planner.Plan(now, v)

	perBucketKept := map[string]int{}
	for _, d := range plan.Decisions {
		if !d.Destroy {
			perBucketKept[d.Bucket]++
		}
	}

	if perBucketKept[BucketMandatory] != 2 {
		t.Errorf("mandatory kept = %d, want 2 (Current+Last)", perBucketKept[BucketMandatory])
	}
	if perBucketKept[BucketDay] > buckets[BucketDay] {
		t.Errorf("day bucket kept %d, exceeds configured cap %d", perBucketKept[BucketDay], buckets[BucketDay])
	}
	for _, b := range []string{BucketHour, BucketWeek, BucketMonth, BucketYear} {
		if perBucketKept[b] > buckets[b] {
			t.Errorf("bucket %s kept %d, exceeds configured cap %d", b, perBucketKept[b], buckets[b])
		}
	}

	destroyed := len(plan.ToDestroy())
	kept := len(v.Snapshots) - destroyed
	if kept != perBucketKept[BucketMandatory]+perBucketKept[BucketDay]+perBucketKept[BucketHour]+perBucketKept[BucketWeek]+perBucketKept[BucketMonth]+perBucketKept[BucketYear] {
		t.Errorf("kept count does not reconcile with per-bucket survivors")
	}
}

// TestPlannerRuleBasedKeepScenario mirrors spec.md scenario 5: a pinned
// snapshot plus two recent ones should all survive and all carry the keep
// protection tag.
func TestPlannerRuleBasedKeepScenario(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	v := &pool.Volume{Name: "vm-pinned"}
	pinned := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	v.Snapshots = []*pool.Snapshot{
		{Name: "backup2023-12-01T00.00.00@pinned", Creation: pinned, HasTime: true},
		{Name: pool.FormatSnapshotName(now.AddDate(0, 0, -2)), Creation: now.AddDate(0, 0, -2), HasTime: true},
		{Name: pool.FormatSnapshotName(now.AddDate(0, 0, -1)), Creation: now.AddDate(0, 0, -1), HasTime: true},
	}
	v.SortSnapshots()

	pinnedPolicy, err := Parse("@pinned")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	weekPolicy, err := Parse("1 week")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	planner := &Planner{
		RetentionPolicy: orMatcher(pinnedPolicy, weekPolicy),
		Buckets:         BucketPolicy{},
	}
	plan := planner.Plan(now, v)

	for _, d := range plan.Decisions {
		if d.Destroy {
			t.Errorf("snapshot %s should survive retentionPolicy=@pinned or 1 week, got destroyed", d.Snapshot.Name)
		}
		if d.Keep != KeepTrue {
			t.Errorf("snapshot %s should be KeepTrue and carry the protection tag, got %v", d.Snapshot.Name, d.Keep)
		}
	}
}

// orMatcher composes two matchers as a disjunction, used only to express
// this test's "@pinned or 1 week" intent; Matcher.Parse itself only
// supports conjunction (" and "), per spec.md §4.3.
func orMatcher(a, b *Matcher) *Matcher {
	return &Matcher{raw: a.raw + " or " + b.raw, clauses: []clause{orClause{a, b}}}
}

type orClause struct{ a, b *Matcher }

func (c orClause) match(now time.Time, s snapshotView) bool {
	snap := &pool.Snapshot{Name: s.Name, Creation: s.Creation}
	return c.a.Match(now, snap) || c.b.Match(now, snap)
}
func (c orClause) String() string { return c.a.raw + " or " + c.b.raw }

func TestPlannerMandatorySnapshotsNeverTrashed(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	v := buildVolume(now, 5)
	planner := &Planner{Buckets: BucketPolicy{}}
	plan := planner.Plan(now, v)

	for _, d := range plan.Decisions {
		if (d.Snapshot.Role == pool.RoleCurrent || d.Snapshot.Role == pool.RoleLast) && d.Bucket != BucketMandatory {
			t.Errorf("snapshot %s at role %v should be in mandatory bucket, got %s", d.Snapshot.Name, d.Snapshot.Role, d.Bucket)
		}
	}
}

func TestParseBucketPolicy(t *testing.T) {
	got, err := ParseBucketPolicy("30d,4w,12m,1y")
	if err != nil {
		t.Fatalf("ParseBucketPolicy: %v", err)
	}
	want := BucketPolicy{BucketHour: 0, BucketDay: 30, BucketWeek: 4, BucketMonth: 12, BucketYear: 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("bucket %s = %d, want %d", k, got[k], v)
		}
	}
}

func TestPlanWithoutRulesLeavesEveryKeepUndetermined(t *testing.T) {
	// built without a pool.Pool/driver and ApplySpacePressure is not called:
	// this checks only that, with no rules configured, Plan leaves every
	// snapshot KeepUndetermined, the state ApplySpacePressure draws its
	// eviction candidates from.
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	v := buildVolume(now, 3)
	planner := &Planner{Buckets: BucketPolicy{}}
	plan := planner.Plan(now, v)
	for _, d := range plan.Decisions {
		if d.Keep != KeepUndetermined {
			t.Errorf("with no maxRetention/retentionPolicy configured every snapshot should be KeepUndetermined, got %v for %s", d.Keep, d.Snapshot.Name)
		}
	}
}
