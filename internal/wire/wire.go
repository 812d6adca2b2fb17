// Package wire implements the RPC request/response codec between a KGB
// client and a KGB server (spec §4.2, component C1): arity discrimination
// across the three supported protocol versions, the SHA1 authentication
// checksum, and UTF-8 normalisation of every string field.
//
// The original KGB project speaks an XML-RPC-flavoured positional-argument
// protocol. Nothing in the reference corpus ships an XML-RPC codec, so the
// envelope syntax here is JSON ({"method":"commit","params":[...]}) over the
// same HTTP endpoint shape; every field, its order, and the hash computed
// over it are unchanged from §4.2 (see SPEC_FULL.md "WIRE CODEC ADAPTATION").
package wire

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ProtocolVersion gates authentication format and whether RevPrefix is present.
type ProtocolVersion int

const (
	V0 ProtocolVersion = 0
	V1 ProtocolVersion = 1
	V2 ProtocolVersion = 2
)

// SupportedVersions lists every protocol version this server understands.
var SupportedVersions = map[ProtocolVersion]bool{V0: true, V1: true, V2: true}

// FaultCode identifies an RPC fault as specified in §4.2/§4.3.
type FaultCode string

const (
	FaultArguments FaultCode = "Client.Arguments"
	FaultSlowdown  FaultCode = "Client.Slowdown"
)

// Envelope is the request body of a single RPC call.
type Envelope struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Fault is the error shape of a rejected RPC call.
type Fault struct {
	Code   FaultCode `json:"code"`
	String string    `json:"string"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.String)
}

// NewFault builds a *Fault, the error type returned by the server. The
// client treats every fault, Client.Arguments and Client.Slowdown alike,
// as a failed attempt and moves on to the next server.
func NewFault(code FaultCode, format string, args ...interface{}) *Fault {
	return &Fault{Code: code, String: fmt.Sprintf(format, args...)}
}

// Response is the reply body of a single RPC call: exactly one of Result or
// Fault is populated.
type Response struct {
	Result string `json:"result,omitempty"`
	Fault  *Fault `json:"fault,omitempty"`
}

// OKResponse is the canonical success reply.
func OKResponse() Response { return Response{Result: "OK"} }

// FaultResponse wraps a fault as a reply.
func FaultResponse(f *Fault) Response { return Response{Fault: f} }

// Call is the version-independent, decoded shape of a commit RPC call.
type Call struct {
	Version   ProtocolVersion
	RepoID    string
	Auth      string // cleartext password (v0) or SHA1 checksum (v1/v2)
	RevPrefix string // v2 only; empty for v0/v1
	Revision  string
	Changes   []string
	Log       string
	Author    string
	Branch    *string
	Module    *string
}

// DecodeCall performs the arity discrimination of spec §4.3 step 1 and
// produces a version-independent Call. It does not authenticate or look up
// the repo; callers do that next (§4.3 steps 2-5).
func DecodeCall(params []interface{}) (Call, error) {
	if len(params) == 0 {
		return Call{}, fmt.Errorf("wire: empty argument list")
	}

	// "If the first arg is not an integer or the arg list has length 6,
	// treat as v0."
	firstNum, firstIsNumber := asInt(params[0])
	if !firstIsNumber || len(params) == 6 {
		return decodeV0(params)
	}

	version := ProtocolVersion(firstNum)
	rest := params[1:]
	switch version {
	case V1:
		return decodeV1(rest)
	case V2:
		return decodeV2(rest)
	default:
		return Call{}, fmt.Errorf("wire: unknown protocol version %d", firstNum)
	}
}

func decodeV0(params []interface{}) (Call, error) {
	if len(params) != 6 {
		return Call{}, fmt.Errorf("wire: v0 call expects 6 arguments, got %d", len(params))
	}
	repoID, ok1 := asString(params[0])
	password, ok2 := asString(params[1])
	revision, ok3 := asString(params[2])
	changes, ok4 := asStringSlice(params[3])
	log, ok5 := asString(params[4])
	author, ok6 := asString(params[5])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return Call{}, fmt.Errorf("wire: v0 call has malformed argument types")
	}
	return Call{
		Version:  V0,
		RepoID:   repoID,
		Auth:     password,
		Revision: revision,
		Changes:  changes,
		Log:      log,
		Author:   author,
	}, nil
}

func decodeV1(params []interface{}) (Call, error) {
	if len(params) != 8 {
		return Call{}, fmt.Errorf("wire: v1 call expects 8 arguments after version, got %d", len(params))
	}
	repoID, ok1 := asString(params[0])
	checksum, ok2 := asString(params[1])
	revision, ok3 := asString(params[2])
	changes, ok4 := asStringSlice(params[3])
	log, ok5 := asString(params[4])
	author, ok6 := asString(params[5])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return Call{}, fmt.Errorf("wire: v1 call has malformed argument types")
	}
	branch := asOptionalString(params[6])
	module := asOptionalString(params[7])
	return Call{
		Version:  V1,
		RepoID:   repoID,
		Auth:     checksum,
		Revision: revision,
		Changes:  changes,
		Log:      log,
		Author:   author,
		Branch:   branch,
		Module:   module,
	}, nil
}

func decodeV2(params []interface{}) (Call, error) {
	if len(params) != 9 {
		return Call{}, fmt.Errorf("wire: v2 call expects 9 arguments after version, got %d", len(params))
	}
	repoID, ok1 := asString(params[0])
	checksum, ok2 := asString(params[1])
	revPrefix, ok3 := asString(params[2])
	revision, ok4 := asString(params[3])
	changes, ok5 := asStringSlice(params[4])
	log, ok6 := asString(params[5])
	author, ok7 := asString(params[6])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return Call{}, fmt.Errorf("wire: v2 call has malformed argument types")
	}
	branch := asOptionalString(params[7])
	module := asOptionalString(params[8])
	return Call{
		Version:   V2,
		RepoID:    repoID,
		Auth:      checksum,
		RevPrefix: revPrefix,
		Revision:  revision,
		Changes:   changes,
		Log:       log,
		Author:    author,
		Branch:    branch,
		Module:    module,
	}, nil
}

// Params renders a Call back into a positional argument list suitable for an
// Envelope; used by the client (C3) to build the outgoing request.
func (c Call) Params() []interface{} {
	changes := make([]interface{}, len(c.Changes))
	for i, ch := range c.Changes {
		changes[i] = ch
	}

	switch c.Version {
	case V0:
		return []interface{}{c.RepoID, c.Auth, c.Revision, changes, c.Log, c.Author}
	case V1:
		return []interface{}{
			int(V1), c.RepoID, c.Auth, c.Revision, changes, c.Log, c.Author,
			optionalParam(c.Branch), optionalParam(c.Module),
		}
	case V2:
		return []interface{}{
			int(V2), c.RepoID, c.Auth, c.RevPrefix, c.Revision, changes, c.Log, c.Author,
			optionalParam(c.Branch), optionalParam(c.Module),
		}
	default:
		return nil
	}
}

func optionalParam(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// Checksum computes the SHA1-hex authentication hash for v1/v2 calls
// (§4.2): the UTF-8 byte concatenation, in order, of repo_id, revision,
// every change string, log, author, branch (if present), module (if
// present), and the shared password — with no separator. rev_prefix is
// never included.
func Checksum(repoID, revision string, changes []string, log, author string, branch, module *string, password string) string {
	h := sha1.New()
	h.Write([]byte(repoID))
	h.Write([]byte(revision))
	for _, c := range changes {
		h.Write([]byte(c))
	}
	h.Write([]byte(log))
	h.Write([]byte(author))
	if branch != nil {
		h.Write([]byte(*branch))
	}
	if module != nil {
		h.Write([]byte(*module))
	}
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChecksum recomputes the hash the server's side and reports whether
// it matches the checksum carried on the call.
func VerifyChecksum(c Call, password string) bool {
	want := Checksum(c.RepoID, c.Revision, c.Changes, c.Log, c.Author, c.Branch, c.Module, password)
	return len(want) == len(c.Auth) && subtle.ConstantTimeCompare([]byte(want), []byte(c.Auth)) == 1
}

// EnsureUTF8 validates that every string field of a decoded Call is valid
// UTF-8. The server hard-fails on invalid input (§9 Open Question (b): the
// client's Latin-1 fallback is not mirrored server-side, for predictability).
func (c Call) EnsureUTF8() error {
	if !utf8.ValidString(c.RepoID) {
		return fmt.Errorf("wire: repo_id is not valid UTF-8")
	}
	if !utf8.ValidString(c.Log) {
		return fmt.Errorf("wire: log is not valid UTF-8")
	}
	if !utf8.ValidString(c.Author) {
		return fmt.Errorf("wire: author is not valid UTF-8")
	}
	for _, ch := range c.Changes {
		if !utf8.ValidString(ch) {
			return fmt.Errorf("wire: change %q is not valid UTF-8", ch)
		}
	}
	if c.Branch != nil && !utf8.ValidString(*c.Branch) {
		return fmt.Errorf("wire: branch is not valid UTF-8")
	}
	if c.Module != nil && !utf8.ValidString(*c.Module) {
		return fmt.Errorf("wire: module is not valid UTF-8")
	}
	return nil
}

// NormalizeUTF8 is the client-side counterpart of EnsureUTF8: if s is
// already valid UTF-8 it is returned unchanged, otherwise it is treated as
// Latin-1 (ISO-8859-1) and transcoded, per §4.2 ("if not, treat it as
// Latin-1 and transcode").
func NormalizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return decoded
}

// asInt reports whether v decodes as a JSON number and returns it as an int.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asOptionalString(v interface{}) *string {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func asStringSlice(v interface{}) ([]string, bool) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, len(raw))
	for i, r := range raw {
		s, ok := r.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}
