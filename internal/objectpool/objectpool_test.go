package objectpool

import "testing"

func TestPoolNames(t *testing.T) {
	tests := []struct {
		geography  string
		wantSource string
		wantBackup string
	}{
		{"us-east", "us-east.rgw.meta", "us-east.rgw.meta.backup"},
		{"eu-west", "eu-west.rgw.meta", "eu-west.rgw.meta.backup"},
	}
	for _, tt := range tests {
		t.Run(tt.geography, func(t *testing.T) {
			if got := SourcePoolName(tt.geography); got != tt.wantSource {
				t.Errorf("SourcePoolName(%q) = %q, want %q", tt.geography, got, tt.wantSource)
			}
			if got := BackupPoolName(tt.geography); got != tt.wantBackup {
				t.Errorf("BackupPoolName(%q) = %q, want %q", tt.geography, got, tt.wantBackup)
			}
		})
	}
}

func TestNewDriversUseGeographyScopedPools(t *testing.T) {
	src := NewSourceDriver("us-east", true)
	if src.PoolName != "us-east.rgw.meta" {
		t.Errorf("source driver PoolName = %q, want %q", src.PoolName, "us-east.rgw.meta")
	}
	bk := NewBackupDriver("us-east", true)
	if bk.PoolName != "us-east.rgw.meta.backup" {
		t.Errorf("backup driver PoolName = %q, want %q", bk.PoolName, "us-east.rgw.meta.backup")
	}
}
