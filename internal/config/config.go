// Package config loads the INI configuration surface described in
// spec.md §6 ([MAIN]/[VMLIST]/[RBDLIST]/[RADOSGW]/[POLICY]) with
// github.com/spf13/viper, the same decode path the teacher used directly in
// policy.ParseSnapSentryMetadataFromSDK via mapstructure, and unmarshals it
// into a typed Config.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/orchestrator"
)

// MainConfig is the [MAIN] section: cluster connection parameters for both
// pools plus the XenServer-compatible hypervisor fields the original
// cephbackup carried (unused by the Nova-backed quiescer but preserved so
// an existing config file round-trips).
type MainConfig struct {
	SourceCephConf    string `mapstructure:"source_ceph_conf"`
	BackupCephConf    string `mapstructure:"backup_ceph_conf"`
	SourceCephPool    string `mapstructure:"source_ceph_pool"`
	BackupCephPool    string `mapstructure:"backup_ceph_pool"`
	SourceCephUser    string `mapstructure:"source_ceph_user"`
	BackupCephUser    string `mapstructure:"backup_ceph_user"`
	SourceCephKeyring string `mapstructure:"source_ceph_keyring"`
	BackupCephKeyring string `mapstructure:"backup_ceph_keyring"`
	XenserverMaster   string `mapstructure:"xenserver_master"`
	XenserverUser     string `mapstructure:"xenserver_user"`
	XenserverPassword string `mapstructure:"xenserver_password"`
}

// VMListConfig is the [VMLIST] section: guest identifiers that get a
// "vm-<id>" volume name and a hypervisor quiesce bracket.
type VMListConfig struct {
	Backups string `mapstructure:"backups"`
}

// RBDListConfig is the [RBDLIST] section: raw volume names replicated with
// no guest association, so no quiesce bracket.
type RBDListConfig struct {
	Backups string `mapstructure:"backups"`
}

// RadosGWConfig is the [RADOSGW] section: gateway geography prefixes for
// the object-store metadata pool pathway (internal/objectpool).
type RadosGWConfig struct {
	Geographies string `mapstructure:"geographies"`
}

// PolicyConfig is the [POLICY] section: the bucket retention spec string,
// decoded separately by retention.ParseBucketPolicy.
type PolicyConfig struct {
	TimeToLive      string `mapstructure:"time_to_live"`
	RetentionPolicy string `mapstructure:"retention_policy"`
	MaxRetention    string `mapstructure:"max_retention"`
}

// Config is the fully decoded INI file.
type Config struct {
	Main    MainConfig    `mapstructure:"MAIN"`
	VMList  VMListConfig  `mapstructure:"VMLIST"`
	RBDList RBDListConfig `mapstructure:"RBDLIST"`
	RadosGW RadosGWConfig `mapstructure:"RADOSGW"`
	Policy  PolicyConfig  `mapstructure:"POLICY"`
}

// Load reads and unmarshals the INI file at path. Env vars prefixed
// RBDSENTRY_ (e.g. RBDSENTRY_MAIN.SOURCE_CEPH_POOL) override file values,
// following the same viper.AutomaticEnv pattern the teacher's root.go uses
// for --cloud/--timeout.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	v.SetEnvPrefix("RBDSENTRY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Volumes builds the Orchestrator's volume list from [VMLIST] (prefixed
// "vm-", quiesced) and [RBDLIST] (used verbatim, not quiesced), both
// whitespace-separated lists per spec.md §6.
func (c *Config) Volumes() []orchestrator.Volume {
	var out []orchestrator.Volume
	for _, id := range strings.Fields(c.VMList.Backups) {
		out = append(out, orchestrator.Volume{Name: "vm-" + id, Quiesce: true})
	}
	for _, name := range strings.Fields(c.RBDList.Backups) {
		out = append(out, orchestrator.Volume{Name: name, Quiesce: false})
	}
	return out
}

// Geographies splits [RADOSGW] geographies into the whitespace-separated
// gateway geography prefix list.
func (c *Config) Geographies() []string {
	return strings.Fields(c.RadosGW.Geographies)
}
