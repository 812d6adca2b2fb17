package fanout

import "testing"

// TestChannelWindowSuppressesDuplicateDelivery verifies the same line is not
// delivered twice to the same channel (§8 property 6).
func TestChannelWindowSuppressesDuplicateDelivery(t *testing.T) {
	w := NewChannelWindow()
	if !w.ShouldDeliver("#a", "hello world") {
		t.Fatal("expected first delivery to be allowed")
	}
	if w.ShouldDeliver("#a", "hello world") {
		t.Fatal("expected duplicate delivery to be suppressed")
	}
}

// TestChannelWindowSuppressesEcho verifies a line just heard from another
// speaker on the channel is not re-delivered (§4.6 echo suppression).
func TestChannelWindowSuppressesEcho(t *testing.T) {
	w := NewChannelWindow()
	w.RecordHeard("#a", "already said this")
	if w.ShouldDeliver("#a", "already said this") {
		t.Fatal("expected echoed line to be suppressed")
	}
}

// TestChannelWindowDistinctChannelsIndependent verifies the dedup window is
// scoped per channel.
func TestChannelWindowDistinctChannelsIndependent(t *testing.T) {
	w := NewChannelWindow()
	if !w.ShouldDeliver("#a", "same text") {
		t.Fatal("expected delivery to #a to be allowed")
	}
	// A second, independent window (as the Router would give #b) is unaffected.
	w2 := NewChannelWindow()
	if !w2.ShouldDeliver("#b", "same text") {
		t.Fatal("expected delivery to an independent channel window to be allowed")
	}
}

// TestMRUSetEvictsOldestAtCapacity verifies FIFO eviction once the set is full.
func TestMRUSetEvictsOldestAtCapacity(t *testing.T) {
	s := newMRUSet(2)
	s.Add("a")
	s.Add("b")
	s.Add("c") // evicts "a"
	if s.Contains("a") {
		t.Error("expected oldest entry to have been evicted")
	}
	if !s.Contains("b") || !s.Contains("c") {
		t.Error("expected the two most recent entries to remain")
	}
}

// TestMRUSetPromoteProtectsFromEviction verifies Promote moves an entry to
// the most-recent end of the eviction order, protecting it from the next
// eviction.
func TestMRUSetPromoteProtectsFromEviction(t *testing.T) {
	s := newMRUSet(2)
	s.Add("a")
	s.Add("b")
	s.Promote("a") // "a" is now most-recent; "b" is oldest
	s.Add("c")     // should evict "b", not "a"
	if !s.Contains("a") {
		t.Error("expected promoted entry to survive eviction")
	}
	if s.Contains("b") {
		t.Error("expected non-promoted entry to be evicted")
	}
}

// TestRouterRoutesToConfiguredChannelsOnly verifies Route consults the
// injected channel lookup and skips repos with no configured channels.
func TestRouterRoutesToConfiguredChannelsOnly(t *testing.T) {
	r := NewRouter(func(repoID string) []string {
		if repoID == "repo1" {
			return []string{"#a", "#b"}
		}
		return nil
	})

	deliveries := r.Route("repo1", []string{"line0"})
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}

	if deliveries := r.Route("unknown", []string{"line0"}); deliveries != nil {
		t.Errorf("expected nil deliveries for an unrouted repo, got %v", deliveries)
	}
}

// TestRouterDropsWholeMessageOnDuplicate verifies that once a channel's
// window has seen a message's first line, a second Route call for the same
// content omits that channel entirely rather than delivering partial lines.
func TestRouterDropsWholeMessageOnDuplicate(t *testing.T) {
	r := NewRouter(func(string) []string { return []string{"#a"} })

	first := r.Route("repo1", []string{"summary", "detail"})
	if len(first) != 1 {
		t.Fatalf("expected first route to deliver, got %v", first)
	}

	second := r.Route("repo1", []string{"summary", "detail"})
	if len(second) != 0 {
		t.Errorf("expected duplicate route to be dropped, got %v", second)
	}
}

// TestForgetChannelResetsDedupState verifies a forgotten channel's window is
// discarded, so the next Route call treats it as fresh.
func TestForgetChannelResetsDedupState(t *testing.T) {
	r := NewRouter(func(string) []string { return []string{"#a"} })
	r.Route("repo1", []string{"line0"})
	r.ForgetChannel("#a")
	deliveries := r.Route("repo1", []string{"line0"})
	if len(deliveries) != 1 {
		t.Errorf("expected delivery to be allowed again after forgetting the channel, got %v", deliveries)
	}
}
