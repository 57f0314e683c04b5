package retention

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/pool"
)

// Bucket names used by the time-to-live policy, plus the implicit
// "mandatory" bucket (capacity 100) and the terminal "trash" sink.
const (
	BucketHour      = "h"
	BucketDay       = "d"
	BucketWeek      = "w"
	BucketMonth     = "m"
	BucketYear      = "y"
	BucketMandatory = "mandatory"
	BucketTrash     = "trash"
)

// BucketPolicy gives each non-mandatory bucket's capacity, e.g. parsed from
// "30d,4w,12m,1y" as {d:30, w:4, m:12, y:1}.
type BucketPolicy map[string]int

// bucketLetterPattern maps each bucket letter of the grammar accepted per
// spec.md §4.4 (a comma-separated list of "<count><letter>" terms) to its
// bucket name.
var bucketLetterPattern = map[byte]string{
	'h': BucketHour, 'd': BucketDay, 'w': BucketWeek, 'm': BucketMonth, 'y': BucketYear,
}

// ParseBucketPolicy parses the [POLICY] time_to_live value.
func ParseBucketPolicy(spec string) (BucketPolicy, error) {
	policy := BucketPolicy{BucketHour: 0, BucketDay: 0, BucketWeek: 0, BucketMonth: 0, BucketYear: 0}
	if spec == "" {
		return policy, nil
	}

	terms := strings.Split(spec, ",")
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		letter := term[len(term)-1]
		name, ok := bucketLetterPattern[letter]
		if !ok {
			return nil, fmt.Errorf("time_to_live term %q: unknown bucket letter %q", term, string(letter))
		}
		n, err := strconv.Atoi(term[:len(term)-1])
		if err != nil {
			return nil, fmt.Errorf("time_to_live term %q: %w", term, err)
		}
		policy[name] = n
	}
	return policy, nil
}

// Keep is the rule-based three-valued decision from spec.md §4.4.
type Keep int

const (
	KeepUndetermined Keep = iota
	KeepTrue
	KeepFalse
)

func (k Keep) String() string {
	switch k {
	case KeepTrue:
		return "true"
	case KeepFalse:
		return "false"
	default:
		return "undetermined"
	}
}

// Planner combines the rule-based (maxRetention/retentionPolicy) and
// bucket-based (time-to-live) policies, per spec.md §4.4.
type Planner struct {
	// MaxRetention, if non-nil, puts every snapshot in KeepFalse unless it
	// matches (which rescues it to KeepUndetermined).
	MaxRetention *Matcher
	// RetentionPolicy, if non-nil, puts matching snapshots in KeepTrue
	// (mandatory keep, protected on the pool).
	RetentionPolicy *Matcher
	Buckets         BucketPolicy

	// MaxCapacityRatio enables best-effort eviction under space pressure
	// (supplemented feature, see SPEC_FULL.md §4); 0 disables it.
	MaxCapacityRatio float64
}

// SnapshotDecision is the per-snapshot planning output.
type SnapshotDecision struct {
	Snapshot *pool.Snapshot
	Keep     Keep
	Bucket   string
	Destroy  bool
}

// Plan is the full per-volume planning result.
type Plan struct {
	Decisions []SnapshotDecision
}

// ToDestroy returns the snapshots both policies agree must be destroyed:
// rule-based says not-KeepTrue, and the bucket planner put them in trash.
// Requiring both conditions (rather than either policy alone) is how the two
// policies are combined.
func (p *Plan) ToDestroy() []*pool.Snapshot {
	var out []*pool.Snapshot
	for _, d := range p.Decisions {
		if d.Destroy {
			out = append(out, d.Snapshot)
		}
	}
	return out
}

// ToProtect returns the snapshots that must carry the pool's "keep"
// protection tag (KeepTrue) as protect, and the rest as unprotect — used to make tag
// adjustment idempotent without re-querying protection state.
func (p *Plan) ToProtect() (protect, unprotect []*pool.Snapshot) {
	for _, d := range p.Decisions {
		if d.Keep == KeepTrue {
			protect = append(protect, d.Snapshot)
		} else {
			unprotect = append(unprotect, d.Snapshot)
		}
	}
	return protect, unprotect
}

// Plan evaluates both policies for every snapshot of v, newest-first.
func (pl *Planner) Plan(now time.Time, v *pool.Volume) *Plan {
	buckets := assignBuckets(now, v.Snapshots, pl.Buckets)

	bucketOf := map[string]string{}
	for name, snaps := range buckets {
		for _, s := range snaps {
			bucketOf[s.Name] = name
		}
	}

	plan := &Plan{}
	for _, s := range v.Snapshots {
		keep := ruleKeep(now, s, pl.MaxRetention, pl.RetentionPolicy)
		bucket := bucketOf[s.Name]
		destroy := bucket == BucketTrash && keep != KeepTrue
		plan.Decisions = append(plan.Decisions, SnapshotDecision{
			Snapshot: s,
			Keep:     keep,
			Bucket:   bucket,
			Destroy:  destroy,
		})
	}
	return plan
}

func ruleKeep(now time.Time, s *pool.Snapshot, maxRetention, retentionPolicy *Matcher) Keep {
	keep := KeepUndetermined
	if maxRetention != nil {
		keep = KeepFalse
		if maxRetention.Match(now, s) {
			keep = KeepUndetermined
		}
	}
	if retentionPolicy != nil && retentionPolicy.Match(now, s) {
		keep = KeepTrue
	}
	return keep
}

func floorDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func floorWeek(t time.Time) time.Time {
	d := floorDay(t)
	offset := (int(d.Weekday()) + 6) % 7 // days since Monday
	return d.AddDate(0, 0, -offset)
}

func floorMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func floorYear(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
}

// assignBuckets walks v's snapshots (already newest-first) and assigns each
// to exactly one bucket per spec.md §4.4 / the original CephSnapshotsCleanup
// sorting algorithm: Current/Last go to "mandatory"; historical entries walk
// h -> d -> w -> m -> y, each bucket admitting entries strictly older than
// its last admission (truncated to the bucket's period boundary) and within
// its lookback window, falling through to "trash" if none apply.
func assignBuckets(now time.Time, snapshots []*pool.Snapshot, policy BucketPolicy) map[string][]*pool.Snapshot {
	buckets := map[string][]*pool.Snapshot{
		BucketMandatory: {}, BucketHour: {}, BucketDay: {}, BucketWeek: {}, BucketMonth: {}, BucketYear: {}, BucketTrash: {},
	}

	for _, s := range snapshots {
		if s.Role == pool.RoleCurrent || s.Role == pool.RoleLast {
			buckets[BucketMandatory] = append(buckets[BucketMandatory], s)
			continue
		}
		if !s.HasTime {
			buckets[BucketTrash] = append(buckets[BucketTrash], s)
			continue
		}

		h := buckets[BucketHour]
		switch {
		case len(h) == 0:
			buckets[BucketHour] = append(h, s)
			continue
		case !s.Creation.After(h[len(h)-1].Creation.Add(-time.Hour)) && !s.Creation.Before(floorDay(h[0].Creation)):
			buckets[BucketHour] = append(h, s)
			continue
		}

		d := buckets[BucketDay]
		switch {
		case len(d) == 0 && len(h) > 0 && !s.Creation.After(floorDay(h[0].Creation)):
			buckets[BucketDay] = append(d, s)
			continue
		case len(d) > 0 && s.Creation.Before(floorDay(d[len(d)-1].Creation)) && !s.Creation.Before(floorDay(d[0].Creation).AddDate(0, 0, -31)):
			buckets[BucketDay] = append(d, s)
			continue
		}

		w := buckets[BucketWeek]
		switch {
		case len(w) == 0 && len(d) > 0 && !s.Creation.After(floorWeek(d[0].Creation)):
			buckets[BucketWeek] = append(w, s)
			continue
		case len(w) > 0 && s.Creation.Before(floorWeek(w[len(w)-1].Creation)) && !s.Creation.Before(floorWeek(w[0].Creation).AddDate(0, 0, -7*52)):
			buckets[BucketWeek] = append(w, s)
			continue
		}

		m := buckets[BucketMonth]
		switch {
		case len(m) == 0 && len(w) > 0 && !s.Creation.After(floorMonth(w[0].Creation)):
			buckets[BucketMonth] = append(m, s)
			continue
		case len(m) > 0 && s.Creation.Before(floorMonth(m[len(m)-1].Creation)) && !s.Creation.Before(floorMonth(m[0].Creation).AddDate(0, 0, -365)):
			buckets[BucketMonth] = append(m, s)
			continue
		}

		y := buckets[BucketYear]
		switch {
		case len(y) == 0 && len(m) > 0 && !s.Creation.After(floorYear(m[0].Creation)):
			buckets[BucketYear] = append(y, s)
			continue
		case len(y) > 0 && s.Creation.Before(floorYear(y[len(y)-1].Creation)):
			buckets[BucketYear] = append(y, s)
			continue
		}

		buckets[BucketTrash] = append(buckets[BucketTrash], s)
	}

	truncateBucket(buckets, BucketHour, policy[BucketHour])
	truncateBucket(buckets, BucketDay, policy[BucketDay])
	truncateBucket(buckets, BucketWeek, policy[BucketWeek])
	truncateBucket(buckets, BucketMonth, policy[BucketMonth])
	truncateBucket(buckets, BucketYear, policy[BucketYear])

	return buckets
}

// truncateBucket trims a bucket to its configured capacity; entries beyond
// the cap (the oldest ones, since the bucket is filled newest-first) move
// to trash.
func truncateBucket(buckets map[string][]*pool.Snapshot, name string, capacity int) {
	items := buckets[name]
	if len(items) <= capacity {
		return
	}
	buckets[name] = items[:capacity]
	buckets[BucketTrash] = append(buckets[BucketTrash], items[capacity:]...)
}

// ApplySpacePressure implements the best-effort eviction supplemented
// feature: when the pool's used/total ratio exceeds MaxCapacityRatio,
// snapshots the rule-based policy left KeepUndetermined (never examined by
// the bucket planner's mandatory/trash decision, or kept by it) become
// eligible for opportunistic destruction, oldest-first, until the pool
// drops back under the threshold or no undetermined snapshots remain.
// It mutates plan.Decisions in place, marking additional snapshots Destroy.
func (pl *Planner) ApplySpacePressure(ctx context.Context, p *pool.Pool, plan *Plan) error {
	if pl.MaxCapacityRatio <= 0 {
		return nil
	}

	stats, err := p.ClusterStats(ctx)
	if err != nil {
		return fmt.Errorf("cluster stats for space pressure check: %w", err)
	}
	total := stats.UsedKB + stats.AvailKB
	if total == 0 {
		return nil
	}

	var candidates []int // indices into plan.Decisions
	for i, d := range plan.Decisions {
		if d.Keep == KeepUndetermined && !d.Destroy {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return plan.Decisions[candidates[i]].Snapshot.Creation.Before(plan.Decisions[candidates[j]].Snapshot.Creation)
	})

	usedRatio := float64(stats.UsedKB) / float64(total)
	for _, idx := range candidates {
		if usedRatio <= pl.MaxCapacityRatio {
			break
		}
		plan.Decisions[idx].Destroy = true
		freed := float64(plan.Decisions[idx].Snapshot.UsedBytes) / 1024
		stats.UsedKB -= uint64(freed)
		usedRatio = float64(stats.UsedKB) / float64(total)
	}
	return nil
}
