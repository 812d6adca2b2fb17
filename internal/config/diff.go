package config

import "sort"

// NetworkDiff describes how a network's configuration changed between two
// reloads (§4.7 "Dynamic membership").
type NetworkDiff struct {
	Name          string
	Added         []string // networks present only in the new config
	Removed       []string // networks present only in the old config
	Respawn       bool     // connection identity changed: tear down and reconnect
	ChannelsJoin  []string // channels to join (present in new, absent in old)
	ChannelsPart  []string // channels to part (present in old, absent in new)
}

// identityChanged reports whether any field that requires a fresh IRC
// connection changed between a and b (§4.7: "if server/port/nick/ircname/
// username/password/nickserv_password changed, tear down and respawn").
func identityChanged(a, b NetworkConfig) bool {
	return a.Server != b.Server ||
		a.Port != b.Port ||
		a.Nick != b.Nick ||
		a.IRCName != b.IRCName ||
		a.Username != b.Username ||
		a.Password != b.Password ||
		a.NickservPassword != b.NickservPassword
}

// DiffNetworks compares the old and new set of networks (and the channel
// membership reachable from each, via each config's Channels map) and
// reports, per network, whether it must be respawned and which channels
// must be joined/parted.
func DiffNetworks(oldCfg, newCfg *Config) []NetworkDiff {
	var diffs []NetworkDiff

	oldNames := networkNames(oldCfg)
	newNames := networkNames(newCfg)

	for name := range newNames {
		if _, existed := oldNames[name]; !existed {
			diffs = append(diffs, NetworkDiff{Name: name, Added: []string{name}})
			continue
		}
	}
	for name := range oldNames {
		if _, exists := newNames[name]; !exists {
			diffs = append(diffs, NetworkDiff{Name: name, Removed: []string{name}})
		}
	}

	for name := range newNames {
		oldNet, hadOld := safeNetwork(oldCfg, name)
		newNet, hasNew := safeNetwork(newCfg, name)
		if !hadOld || !hasNew {
			continue // already reported as Added above
		}

		d := NetworkDiff{Name: name}
		if identityChanged(oldNet, newNet) {
			d.Respawn = true
		}

		oldChans := channelsOnNetwork(oldCfg, name)
		newChans := channelsOnNetwork(newCfg, name)
		d.ChannelsJoin = setDifference(newChans, oldChans)
		d.ChannelsPart = setDifference(oldChans, newChans)

		if d.Respawn || len(d.ChannelsJoin) > 0 || len(d.ChannelsPart) > 0 {
			diffs = append(diffs, d)
		}
	}

	return diffs
}

func networkNames(c *Config) map[string]struct{} {
	out := make(map[string]struct{})
	if c == nil {
		return out
	}
	for name := range c.Networks {
		out[name] = struct{}{}
	}
	return out
}

func safeNetwork(c *Config, name string) (NetworkConfig, bool) {
	if c == nil {
		return NetworkConfig{}, false
	}
	n, ok := c.Networks[name]
	return n, ok
}

// channelsOnNetwork returns every channel name (config-level, plus a
// network's own Channels list) that resolves onto the given network,
// sorted for deterministic diffing.
func channelsOnNetwork(c *Config, network string) []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, ch := range c.Networks[network].Channels {
		seen[ch] = struct{}{}
	}
	for name, ch := range c.Channels {
		if ch.Network == network {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func setDifference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := inB[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// ChannelsOnNetworkPublic exposes channelsOnNetwork to callers outside the
// package (the supervisor, reconciling an irc.Session's membership after a
// reload that didn't require a respawn).
func ChannelsOnNetworkPublic(c *Config, network string) []string {
	return channelsOnNetwork(c, network)
}

// SmartAnswerMeta is the per-channel smart-answer configuration consulted by
// the IRC session manager when replying to a non-command address (§4.7).
type SmartAnswerMeta struct {
	Answers []string
	Polygen bool
}

// SmartAnswersForNetwork builds the channel-name -> SmartAnswerMeta map for
// every channel that resolves onto network, for the IRC session owning it.
func SmartAnswersForNetwork(c *Config, network string) map[string]SmartAnswerMeta {
	out := make(map[string]SmartAnswerMeta)
	if c == nil {
		return out
	}
	for name, ch := range c.Channels {
		if ch.Network != network {
			continue
		}
		out[name] = SmartAnswerMeta{Answers: ch.SmartAnswers, Polygen: ch.SmartAnswersPolygen}
	}
	return out
}

// RPCBindChanged reports whether the RPC listen identity changed between
// two configs (§4.8: HUP forces a full restart via the QUIT path when this
// is true, instead of an in-place pointer swap).
func RPCBindChanged(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return true
	}
	return oldCfg.RPCAddr != newCfg.RPCAddr ||
		oldCfg.RPCPort != newCfg.RPCPort ||
		oldCfg.ServiceName != newCfg.ServiceName
}
