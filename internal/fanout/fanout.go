// Package fanout implements the repository-to-channel dispatch and the
// per-channel de-duplication windows described in spec §4.5/§4.6
// (component C6).
package fanout

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
)

const seenSetCapacity = 100
const fingerprintPrefixLen = 100

// Fingerprint hashes (channel, first 100 bytes of line) the way §4.6
// specifies, for both the delivered-message seen-set and the
// heard-on-channel MRU.
func Fingerprint(channel, line string) string {
	if len(line) > fingerprintPrefixLen {
		line = line[:fingerprintPrefixLen]
	}
	h := sha1.New()
	h.Write([]byte(channel))
	h.Write([]byte{0})
	h.Write([]byte(line))
	return hex.EncodeToString(h.Sum(nil))
}

// mruSet is a bounded, ordered fingerprint set with FIFO eviction and
// promote-to-most-recent via Promote, shared by both the delivered-message
// seen-set and the heard-on-channel echo-suppression MRU (§4.6).
type mruSet struct {
	mu       sync.Mutex
	order    []string
	index    map[string]struct{}
	capacity int
}

func newMRUSet(capacity int) *mruSet {
	return &mruSet{index: make(map[string]struct{}), capacity: capacity}
}

// Contains reports whether fp is present.
func (s *mruSet) Contains(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[fp]
	return ok
}

// Promote moves fp to the most-recent end of the eviction order (last to be
// evicted) if present, or
// inserts it, evicting the oldest entry if the set is at capacity.
func (s *mruSet) Promote(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[fp]; ok {
		s.removeFromOrder(fp)
		s.order = append(s.order, fp)
		return
	}
	s.insertLocked(fp)
}

// Add inserts fp if absent, evicting the oldest entry at capacity. It does
// not reorder an already-present entry (used by the delivery seen-set,
// which only ever appends new fingerprints).
func (s *mruSet) Add(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[fp]; ok {
		return
	}
	s.insertLocked(fp)
}

func (s *mruSet) insertLocked(fp string) {
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.index, oldest)
	}
	s.order = append(s.order, fp)
	s.index[fp] = struct{}{}
}

func (s *mruSet) removeFromOrder(fp string) {
	for i, v := range s.order {
		if v == fp {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// ChannelWindow holds one channel's de-duplication state: the delivered-
// message seen-set and the heard-on-channel echo-suppression MRU, both
// capacity 100 (§4.6). Lifecycle matches the owning IRC session.
type ChannelWindow struct {
	seen  *mruSet
	heard *mruSet
}

// NewChannelWindow creates an empty window.
func NewChannelWindow() *ChannelWindow {
	return &ChannelWindow{
		seen:  newMRUSet(seenSetCapacity),
		heard: newMRUSet(seenSetCapacity),
	}
}

// ShouldDeliver reports whether a message whose first line is line0 should
// be delivered to this channel: it must not duplicate something already
// delivered, and must not echo something just heard from another speaker.
// On true, line0's fingerprint is recorded in the seen-set.
func (w *ChannelWindow) ShouldDeliver(channel, line0 string) bool {
	fp := Fingerprint(channel, line0)
	if w.seen.Contains(fp) {
		return false
	}
	if w.heard.Contains(fp) {
		return false
	}
	w.seen.Add(fp)
	return true
}

// RecordHeard registers a PRIVMSG seen on-channel from any speaker, for
// echo suppression (§4.6 second half).
func (w *ChannelWindow) RecordHeard(channel, message string) {
	w.heard.Promote(Fingerprint(channel, message))
}

// Router resolves a repo id to its target channels and owns the
// per-channel de-duplication windows (§4.5, §4.6).
type Router struct {
	mu       sync.Mutex
	windows  map[string]*ChannelWindow
	channels func(repoID string) []string
}

// NewRouter builds a Router. channelsForRepo is consulted on every Route
// call so that a config reload (which replaces the function's backing
// config pointer) is observed without the Router itself being rebuilt.
func NewRouter(channelsForRepo func(repoID string) []string) *Router {
	return &Router{
		windows:  make(map[string]*ChannelWindow),
		channels: channelsForRepo,
	}
}

// windowFor returns (creating if necessary) the de-dup window for channel.
func (r *Router) windowFor(channel string) *ChannelWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[channel]
	if !ok {
		w = NewChannelWindow()
		r.windows[channel] = w
	}
	return w
}

// Delivery is one channel's worth of lines to send, after de-duplication.
type Delivery struct {
	Channel string
	Lines   []string
}

// Route resolves repoID to its channels and, per channel, applies de-dup
// against that channel's line-0 fingerprint. Channels whose window
// suppresses the message are omitted from the result entirely — the whole
// multi-line message is dropped together (§4.6).
func (r *Router) Route(repoID string, lines []string) []Delivery {
	if len(lines) == 0 {
		return nil
	}
	channels := r.channels(repoID)
	if len(channels) == 0 {
		return nil
	}
	deliveries := make([]Delivery, 0, len(channels))
	for _, ch := range channels {
		w := r.windowFor(ch)
		if !w.ShouldDeliver(ch, lines[0]) {
			continue
		}
		deliveries = append(deliveries, Delivery{Channel: ch, Lines: lines})
	}
	return deliveries
}

// ForgetChannel discards a channel's de-dup windows, called when an IRC
// session tears down (§3 "Seen-set... discarded on disconnect").
func (r *Router) ForgetChannel(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, channel)
}

// RecordHeard forwards a heard-on-channel PRIVMSG into that channel's
// window, creating the window if this is the first traffic seen for it.
func (r *Router) RecordHeard(channel, message string) {
	r.windowFor(channel).RecordHeard(channel, message)
}
