// Package rpcserver implements the HTTP RPC ingress (spec §4.3, component
// C4): the commit method's arity discrimination, version gate, admission
// control, repository lookup, and authentication, handing accepted calls
// off to the formatter and fan-out.
package rpcserver

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/kgbnotify/kgb/internal/commit"
	"github.com/kgbnotify/kgb/internal/config"
	"github.com/kgbnotify/kgb/internal/errors"
	"github.com/kgbnotify/kgb/internal/fanout"
	"github.com/kgbnotify/kgb/internal/formatter"
	"github.com/kgbnotify/kgb/internal/logger"
	"github.com/kgbnotify/kgb/internal/wire"
)

// Backlog reports the combined pending-send depth across every live IRC
// session, consulted for admission control (§4.3 step 3, §9 Open Question
// (c): summed across sessions rather than kept as a single server-wide
// counter).
type Backlog interface {
	TotalQueueDepth() int
}

// Dispatcher hands a formatted, de-duplicated delivery to the right IRC
// session.
type Dispatcher interface {
	Deliver(channel string, lines []string) error
}

// ConfigSource returns the live configuration snapshot; implementations
// must not retain the pointer across a suspension point (§5).
type ConfigSource func() *config.Config

// Handler implements the commit RPC endpoint.
type Handler struct {
	configSource ConfigSource
	backlog      Backlog
	dispatcher   Dispatcher
	router       *fanout.Router
	log          *logger.Logger
}

// New builds a Handler.
func New(configSource ConfigSource, backlog Backlog, dispatcher Dispatcher, router *fanout.Router, log *logger.Logger) *Handler {
	return &Handler{
		configSource: configSource,
		backlog:      backlog,
		dispatcher:   dispatcher,
		router:       router,
		log:          log,
	}
}

// ServeHTTP implements the RPC endpoint at /?session={service_name}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := uuid.NewString()
	log := h.log.With("call_id", callID)

	cfg := h.configSource() // sampled once; not re-read for the rest of this call (§5)

	if got := r.URL.Query().Get("session"); got != "" && got != cfg.ServiceName {
		writeFault(w, errors.ArgumentsError("unknown session %q", got).RPCFault())
		return
	}

	var env wire.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeFault(w, errors.ArgumentsError("malformed request body: %v", err).RPCFault())
		return
	}
	if env.Method != "commit" {
		writeFault(w, errors.ArgumentsError("unknown method %q", env.Method).RPCFault())
		return
	}

	call, err := wire.DecodeCall(env.Params)
	if err != nil {
		log.Warnf("arity discrimination failed: %v", err)
		writeFault(w, errors.ArgumentsError("%v", err).RPCFault())
		return
	}

	if !cfg.SupportsVersion(int(call.Version)) {
		writeFault(w, errors.ArgumentsError("unsupported protocol version %d", call.Version).RPCFault())
		return
	}

	if h.backlog.TotalQueueDepth() > cfg.QueueLimit {
		log.Warnf("admission control rejected repo %q: backlog exceeds queue_limit", call.RepoID)
		writeFault(w, errors.SlowdownError().RPCFault())
		return
	}

	repo, ok := cfg.Repos[call.RepoID]
	if !ok {
		writeFault(w, errors.ArgumentsError("unknown repo %q", call.RepoID).RPCFault())
		return
	}

	if err := call.EnsureUTF8(); err != nil {
		writeFault(w, errors.ArgumentsError("%v", err).RPCFault())
		return
	}

	if !h.authenticate(call, repo) {
		log.Warnf("authentication failed for repo %q", call.RepoID)
		writeFault(w, errors.ArgumentsError("authentication failed").RPCFault())
		return
	}

	c := commit.Commit{
		ID:     call.Revision,
		Author: call.Author,
		Log:    call.Log,
	}
	if call.Branch != nil {
		c.Branch = *call.Branch
	}
	if call.Module != nil {
		c.Module = *call.Module
	}
	for _, raw := range call.Changes {
		ch, err := commit.ParseChange(raw)
		if err != nil {
			writeFault(w, errors.ArgumentsError("%v", err).RPCFault())
			return
		}
		c.Changes = append(c.Changes, ch)
	}
	if err := c.Validate(); err != nil {
		writeFault(w, errors.ArgumentsError("%v", err).RPCFault())
		return
	}

	h.deliver(cfg, call.RepoID, c, call.RevPrefix, log)

	writeOK(w)
}

func (h *Handler) authenticate(call wire.Call, repo config.RepoConfig) bool {
	switch call.Version {
	case wire.V0:
		if repo.Password == "" {
			return true // §9 Open Question (a): preserved quirk, unauthenticated when repo has no password
		}
		return subtle.ConstantTimeCompare([]byte(call.Auth), []byte(repo.Password)) == 1
	default:
		return wire.VerifyChecksum(call, repo.Password)
	}
}

func (h *Handler) deliver(cfg *config.Config, repoID string, c commit.Commit, revPrefix string, log *logger.Logger) {
	channels := cfg.ChannelsForRepo(repoID)
	if len(channels) == 0 {
		return
	}

	fmtr := formatter.New(formatter.Colors(cfg.Colors))
	maxLine := formatter.MaxLineBytes(channels)
	lines := fmtr.Lines(repoID, c, revPrefix, maxLine)

	for _, delivery := range h.router.Route(repoID, lines) {
		if err := h.dispatcher.Deliver(delivery.Channel, delivery.Lines); err != nil {
			log.Errorf("delivery to %s failed: %v", delivery.Channel, err)
		}
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wire.OKResponse())
}

func writeFault(w http.ResponseWriter, f *wire.Fault) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wire.FaultResponse(f))
}
