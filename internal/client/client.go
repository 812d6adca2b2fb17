// Package client implements the failover driver a repository hook uses to
// deliver one commit to a configured set of KGB servers (spec §4.1,
// component C3): shuffle, sticky last-good server, retry on failure.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/kgbnotify/kgb/internal/commit"
	"github.com/kgbnotify/kgb/internal/config"
	"github.com/kgbnotify/kgb/internal/logger"
	"github.com/kgbnotify/kgb/internal/wire"
)

// Driver delivers commits to one of several ServerRefs, remembering the
// last server that succeeded so subsequent calls from the same process try
// it first (§4.1 step 2, §9 "Sticky-server cache": a caller-scoped field is
// sufficient because one client instance lives for one invocation but may
// deliver multiple commits).
type Driver struct {
	servers []config.ServerRef
	log     *logger.Logger
	sticky  int // index into servers of the last-successful ref, or -1
}

// New builds a Driver over the given ServerRefs. At least one must be
// present; callers are expected to have validated this via LoadClientConfig.
func New(servers []config.ServerRef, log *logger.Logger) *Driver {
	return &Driver{servers: servers, log: log, sticky: -1}
}

// Deliver sends one RPC call for c, trying ServerRefs in shuffled order
// (sticky server first) until one succeeds, and returns an error only when
// every server failed.
func (d *Driver) Deliver(ctx context.Context, repoID string, version wire.ProtocolVersion, c commit.Commit, revPrefix string) error {
	order := d.candidateOrder()

	var lastErr error
	for _, idx := range order {
		ref := d.servers[idx]
		call := d.buildCall(repoID, version, c, revPrefix, ref.Password)

		err := d.attempt(ctx, ref, call)
		if err == nil {
			d.sticky = idx
			return nil
		}
		d.log.Warnf("delivery to %s failed: %v", ref.URI, err)
		lastErr = err
	}
	return fmt.Errorf("client: all %d server(s) failed, last error: %w", len(d.servers), lastErr)
}

// candidateOrder returns a uniformly random permutation of server indices,
// with the sticky index (if any) moved to the front (§4.1 steps 1-2).
func (d *Driver) candidateOrder() []int {
	order := shuffle(len(d.servers))
	if d.sticky < 0 {
		return order
	}
	out := make([]int, 0, len(order))
	out = append(out, d.sticky)
	for _, idx := range order {
		if idx != d.sticky {
			out = append(out, idx)
		}
	}
	return out
}

func shuffle(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := randIntn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func randIntn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func (d *Driver) buildCall(repoID string, version wire.ProtocolVersion, c commit.Commit, revPrefix, password string) wire.Call {
	changes := c.ChangeStrings()
	for i, ch := range changes {
		changes[i] = wire.NormalizeUTF8(ch)
	}
	logText := wire.NormalizeUTF8(c.Log)
	author := wire.NormalizeUTF8(c.Author)
	revision := wire.NormalizeUTF8(c.ID)

	var branch, module *string
	if c.Branch != "" {
		b := wire.NormalizeUTF8(c.Branch)
		branch = &b
	}
	if c.Module != "" {
		m := wire.NormalizeUTF8(c.Module)
		module = &m
	}

	call := wire.Call{
		Version:   version,
		RepoID:    repoID,
		RevPrefix: revPrefix,
		Revision:  revision,
		Changes:   changes,
		Log:       logText,
		Author:    author,
		Branch:    branch,
		Module:    module,
	}
	if version == wire.V0 {
		call.Auth = password
	} else {
		call.Auth = wire.Checksum(repoID, revision, changes, logText, author, branch, module, password)
	}
	return call
}

// attempt performs one HTTP round trip to ref.Proxy with ref.Timeout,
// returning a non-nil error for any transport failure, non-2xx status, or
// RPC fault (§4.1 step 4).
func (d *Driver) attempt(ctx context.Context, ref config.ServerRef, call wire.Call) error {
	ctx, cancel := context.WithTimeout(ctx, ref.Timeout)
	defer cancel()

	body, err := json.Marshal(wire.Envelope{Method: "commit", Params: call.Params()})
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ref.Proxy, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request to %s: %w", ref.URI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("client: %s responded with status %d", ref.URI, resp.StatusCode)
	}

	var out wire.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("client: decode response from %s: %w", ref.URI, err)
	}
	if out.Fault != nil {
		return fmt.Errorf("client: %s rejected call: %w", ref.URI, out.Fault)
	}
	return nil
}
