package config_test

import (
	"testing"

	"github.com/kgbnotify/kgb/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Networks: map[string]config.NetworkConfig{
			"freenode": {Server: "irc.freenode.net", Port: 6667, Nick: "KGB", Channels: []string{"#a"}},
		},
		Channels: map[string]config.ChannelConfig{
			"#a": {Name: "#a", Network: "freenode", Repos: []string{"repo1"}},
		},
	}
}

// TestDiffNetworksDetectsIdentityChange verifies a nick change forces a
// respawn (§4.7 "Dynamic membership").
func TestDiffNetworksDetectsIdentityChange(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	n := newCfg.Networks["freenode"]
	n.Nick = "KGB2"
	newCfg.Networks["freenode"] = n

	diffs := config.DiffNetworks(oldCfg, newCfg)
	if len(diffs) != 1 || !diffs[0].Respawn {
		t.Fatalf("expected one respawning diff, got %+v", diffs)
	}
}

// TestDiffNetworksReconcilesChannels verifies channel additions/removals
// are reported without forcing a respawn when identity is unchanged.
func TestDiffNetworksReconcilesChannels(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	newCfg.Channels["#b"] = config.ChannelConfig{Name: "#b", Network: "freenode", Repos: []string{"repo1"}}
	delete(newCfg.Channels, "#a")
	n := newCfg.Networks["freenode"]
	n.Channels = []string{"#b"}
	newCfg.Networks["freenode"] = n

	diffs := config.DiffNetworks(oldCfg, newCfg)
	if len(diffs) != 1 {
		t.Fatalf("expected one diff, got %d", len(diffs))
	}
	d := diffs[0]
	if d.Respawn {
		t.Error("expected no respawn for a pure channel change")
	}
	if len(d.ChannelsJoin) != 1 || d.ChannelsJoin[0] != "#b" {
		t.Errorf("expected join of #b, got %v", d.ChannelsJoin)
	}
	if len(d.ChannelsPart) != 1 || d.ChannelsPart[0] != "#a" {
		t.Errorf("expected part of #a, got %v", d.ChannelsPart)
	}
}

// TestDiffNetworksNoChangeYieldsNoDiff verifies an unchanged config
// produces no diffs at all.
func TestDiffNetworksNoChangeYieldsNoDiff(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	if diffs := config.DiffNetworks(oldCfg, newCfg); len(diffs) != 0 {
		t.Errorf("expected no diffs, got %+v", diffs)
	}
}

// TestDiffNetworksDetectsAddedAndRemoved verifies whole-network add/remove.
func TestDiffNetworksDetectsAddedAndRemoved(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := &config.Config{
		Networks: map[string]config.NetworkConfig{
			"oftc": {Server: "irc.oftc.net", Port: 6667, Nick: "KGB"},
		},
	}

	diffs := config.DiffNetworks(oldCfg, newCfg)
	var sawAdded, sawRemoved bool
	for _, d := range diffs {
		if d.Name == "oftc" && len(d.Added) == 1 {
			sawAdded = true
		}
		if d.Name == "freenode" && len(d.Removed) == 1 {
			sawRemoved = true
		}
	}
	if !sawAdded || !sawRemoved {
		t.Errorf("expected both an add and a remove diff, got %+v", diffs)
	}
}

// TestRPCBindChangedDetectsPortChange verifies a port change on the RPC
// listen identity is detected (§4.8 "HUP" forces a restart in this case).
func TestRPCBindChangedDetectsPortChange(t *testing.T) {
	oldCfg := &config.Config{RPCAddr: "0.0.0.0", RPCPort: 6000, ServiceName: "KGB"}
	newCfg := &config.Config{RPCAddr: "0.0.0.0", RPCPort: 6001, ServiceName: "KGB"}
	if !config.RPCBindChanged(oldCfg, newCfg) {
		t.Fatal("expected RPC bind change to be detected")
	}
}

// TestRPCBindUnchanged verifies an identical bind reports no change.
func TestRPCBindUnchanged(t *testing.T) {
	oldCfg := &config.Config{RPCAddr: "0.0.0.0", RPCPort: 6000, ServiceName: "KGB"}
	newCfg := &config.Config{RPCAddr: "0.0.0.0", RPCPort: 6000, ServiceName: "KGB"}
	if config.RPCBindChanged(oldCfg, newCfg) {
		t.Fatal("expected no RPC bind change")
	}
}
