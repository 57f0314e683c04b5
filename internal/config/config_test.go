package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rbdsentry.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDecodesAllSections(t *testing.T) {
	path := writeConfig(t, `
[MAIN]
source_ceph_conf = /etc/ceph/source.conf
backup_ceph_conf = /etc/ceph/backup.conf
source_ceph_pool = source-pool
backup_ceph_pool = backup-pool
source_ceph_user = admin
backup_ceph_user = admin

[VMLIST]
backups = 100 101 102

[RBDLIST]
backups = raw-vol-a raw-vol-b

[RADOSGW]
geographies = us-east eu-west

[POLICY]
time_to_live = 30d,4w,12m,1y
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"source pool", cfg.Main.SourceCephPool, "source-pool"},
		{"backup pool", cfg.Main.BackupCephPool, "backup-pool"},
		{"source user", cfg.Main.SourceCephUser, "admin"},
		{"time_to_live", cfg.Policy.TimeToLive, "30d,4w,12m,1y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestConfigVolumesCombinesVMAndRBDLists(t *testing.T) {
	path := writeConfig(t, `
[VMLIST]
backups = 100 101

[RBDLIST]
backups = raw-a
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	volumes := cfg.Volumes()
	if len(volumes) != 3 {
		t.Fatalf("expected 3 volumes, got %d", len(volumes))
	}

	byName := map[string]bool{}
	for _, v := range volumes {
		byName[v.Name] = v.Quiesce
	}

	if !byName["vm-100"] || !byName["vm-101"] {
		t.Error("expected vm-100 and vm-101 to be present and quiesced")
	}
	if q, ok := byName["raw-a"]; !ok || q {
		t.Error("expected raw-a to be present and not quiesced")
	}
}

func TestConfigGeographiesSplitsWhitespace(t *testing.T) {
	path := writeConfig(t, `
[RADOSGW]
geographies = us-east   eu-west
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.Geographies()
	if len(got) != 2 || got[0] != "us-east" || got[1] != "eu-west" {
		t.Errorf("Geographies() = %v, want [us-east eu-west]", got)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
