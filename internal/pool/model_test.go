package pool

import (
	"testing"
	"time"
)

func TestParseSnapshotCreation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantOK   bool
		wantTime time.Time
	}{
		{
			name:     "well formed",
			input:    "backup2024-01-15T09.00.00",
			wantOK:   true,
			wantTime: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "pinned suffix still parses the prefix",
			input:    "backup2023-12-01T00.00.00@pinned",
			wantOK:   true,
			wantTime: time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "unrecognized name sorts last",
			input:  "some-other-snapshot",
			wantOK: false,
		},
		{
			name:   "too short",
			input:  "backup2024",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSnapshotCreation(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.wantTime) {
				t.Errorf("creation = %v, want %v", got, tt.wantTime)
			}
		})
	}
}

func TestVolumeSortSnapshotsAssignsRoles(t *testing.T) {
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	v := &Volume{
		Name: "vm-100",
		Snapshots: []*Snapshot{
			{Name: FormatSnapshotName(base.AddDate(0, 0, -2)), Creation: base.AddDate(0, 0, -2), HasTime: true},
			{Name: FormatSnapshotName(base), Creation: base, HasTime: true},
			{Name: "unparseable", HasTime: false},
			{Name: FormatSnapshotName(base.AddDate(0, 0, -1)), Creation: base.AddDate(0, 0, -1), HasTime: true},
		},
	}

	v.SortSnapshots()

	if v.Current().Creation != base {
		t.Fatalf("expected newest snapshot at Current, got %v", v.Current())
	}
	if v.Last().Creation != base.AddDate(0, 0, -1) {
		t.Fatalf("expected second-newest at Last, got %v", v.Last())
	}
	hist := v.Historical()
	if len(hist) != 2 {
		t.Fatalf("expected 2 historical snapshots, got %d", len(hist))
	}
	if hist[len(hist)-1].Name != "unparseable" {
		t.Errorf("unparseable snapshot should sort last, got order %v", namesOf(v.Snapshots))
	}

	for i, s := range v.Snapshots {
		want := roleForPosition(i)
		if s.Role != want {
			t.Errorf("position %d: role = %v, want %v", i, s.Role, want)
		}
	}
}

func namesOf(snaps []*Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Name
	}
	return out
}

func TestSnapshotSuffix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "backup2023-12-01T00.00.00@pinned", want: "pinned"},
		{name: "backup2023-12-01T00.00.00", want: ""},
	}
	for _, tt := range tests {
		s := Snapshot{Name: tt.name}
		if got := s.Suffix(); got != tt.want {
			t.Errorf("Suffix(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
