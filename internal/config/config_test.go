package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kgbnotify/kgb/internal/config"
)

const sampleYAML = `
rpc_addr: "0.0.0.0"
rpc_port: 6000
service_name: "KGB"
queue_limit: 150
min_protocol_ver: 1
admins:
  - "*!*@admin.example.com"
repos:
  myrepo:
    password: "secret"
    channels: ["#a"]
networks:
  freenode:
    server: "irc.freenode.net"
    nick: "KGB"
channels:
  "#a":
    network: "freenode"
    repos: ["myrepo"]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kgb.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadAppliesDefaultsAndBuildsReverseIndex verifies Load fills in
// network defaults (port/nick/username/ircname) and builds the repo ->
// channels reverse index (§3, §4.5).
func TestLoadAppliesDefaultsAndBuildsReverseIndex(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Networks["freenode"].Port; got != 6667 {
		t.Errorf("expected default port 6667, got %d", got)
	}
	if got := cfg.Networks["freenode"].Username; got == "" {
		t.Error("expected a default username to be applied")
	}
	if chans := cfg.ChannelsForRepo("myrepo"); len(chans) != 1 || chans[0] != "#a" {
		t.Errorf("expected repo myrepo to fan out to #a, got %v", chans)
	}
}

// TestLoadRejectsChannelReferencingUnknownNetwork verifies a channel whose
// network does not exist fails validation.
func TestLoadRejectsChannelReferencingUnknownNetwork(t *testing.T) {
	bad := `
rpc_addr: "0.0.0.0"
rpc_port: 6000
repos:
  myrepo:
    password: "secret"
channels:
  "#a":
    network: "doesnotexist"
    repos: ["myrepo"]
`
	path := writeConfig(t, bad)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for channel referencing an unknown network")
	}
}

// TestLoadRejectsChannelReferencingUnknownRepo verifies a channel whose repo
// list names an undeclared repo fails validation.
func TestLoadRejectsChannelReferencingUnknownRepo(t *testing.T) {
	bad := `
rpc_addr: "0.0.0.0"
rpc_port: 6000
networks:
  freenode:
    server: "irc.freenode.net"
channels:
  "#a":
    network: "freenode"
    repos: ["doesnotexist"]
`
	path := writeConfig(t, bad)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for channel referencing an unknown repo")
	}
}

// TestLoadRejectsOutOfRangeRPCPort verifies the RPC port is range-checked.
func TestLoadRejectsOutOfRangeRPCPort(t *testing.T) {
	bad := `
rpc_addr: "0.0.0.0"
rpc_port: 99999
`
	path := writeConfig(t, bad)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for an out-of-range rpc_port")
	}
}

// TestSupportsVersionGatesOnMinProtocolVer verifies v0 is rejected unless
// min_protocol_ver is lowered to admit it (§3, §4.3 step 2).
func TestSupportsVersionGatesOnMinProtocolVer(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.SupportsVersion(0) {
		t.Error("expected v0 to be rejected when min_protocol_ver is 1")
	}
	if !cfg.SupportsVersion(1) || !cfg.SupportsVersion(2) {
		t.Error("expected v1 and v2 to be supported")
	}
	if cfg.SupportsVersion(9) {
		t.Error("expected an unknown version to be rejected")
	}
}

// TestSupportsVersionExplicitZeroAdmitsV0 verifies an explicit
// "min_protocol_ver: 0" in the YAML file (as opposed to the key being
// absent) is distinguishable and actually admits the legacy v0 protocol.
func TestSupportsVersionExplicitZeroAdmitsV0(t *testing.T) {
	explicitZero := `
rpc_addr: "0.0.0.0"
rpc_port: 6000
min_protocol_ver: 0
repos:
  myrepo:
    password: "secret"
    channels: ["#a"]
networks:
  freenode:
    server: "irc.freenode.net"
channels:
  "#a":
    network: "freenode"
    repos: ["myrepo"]
`
	cfg, err := config.Load(writeConfig(t, explicitZero))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.SupportsVersion(0) {
		t.Error("expected explicit min_protocol_ver: 0 to admit v0")
	}
}
