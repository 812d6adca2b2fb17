package wire_test

import (
	"testing"

	"github.com/kgbnotify/kgb/internal/wire"
)

// TestDecodeCallV0ByArity verifies a 6-argument call with no leading
// integer is treated as v0.
func TestDecodeCallV0ByArity(t *testing.T) {
	params := []interface{}{"repo", "secret", "1", []interface{}{"(A)/file"}, "add file", "alice"}
	call, err := wire.DecodeCall(params)
	if err != nil {
		t.Fatalf("DecodeCall returned error: %v", err)
	}
	if call.Version != wire.V0 || call.RepoID != "repo" || call.Auth != "secret" {
		t.Errorf("unexpected v0 decode: %+v", call)
	}
}

// TestDecodeCallV1 verifies the leading-version discrimination for v1.
func TestDecodeCallV1(t *testing.T) {
	params := []interface{}{
		1, "repo", "deadbeef", "2", []interface{}{"file"}, "modify", "bob", "main", nil,
	}
	call, err := wire.DecodeCall(params)
	if err != nil {
		t.Fatalf("DecodeCall returned error: %v", err)
	}
	if call.Version != wire.V1 || call.Branch == nil || *call.Branch != "main" || call.Module != nil {
		t.Errorf("unexpected v1 decode: %+v", call)
	}
}

// TestDecodeCallV2HasRevPrefix verifies a v2 call decodes its rev_prefix.
func TestDecodeCallV2HasRevPrefix(t *testing.T) {
	params := []interface{}{
		2, "repo", "deadbeef", "r", "3", []interface{}{"file"}, "log", "carol", nil, nil,
	}
	call, err := wire.DecodeCall(params)
	if err != nil {
		t.Fatalf("DecodeCall returned error: %v", err)
	}
	if call.Version != wire.V2 || call.RevPrefix != "r" {
		t.Errorf("unexpected v2 decode: %+v", call)
	}
}

// TestDecodeCallUnknownVersion verifies an unrecognised leading version is rejected.
func TestDecodeCallUnknownVersion(t *testing.T) {
	params := []interface{}{9, "repo"}
	if _, err := wire.DecodeCall(params); err == nil {
		t.Fatal("expected error for unknown protocol version, got nil")
	}
}

// TestChecksumRoundTrip verifies a correctly computed checksum verifies,
// and that mutating a single field (the author) flips the result (§8
// property 1).
func TestChecksumRoundTrip(t *testing.T) {
	branch := "main"
	sum := wire.Checksum("repo", "42", []string{"(A)file"}, "log text", "alice", &branch, nil, "hunter2")

	call := wire.Call{
		RepoID:   "repo",
		Revision: "42",
		Changes:  []string{"(A)file"},
		Log:      "log text",
		Author:   "alice",
		Branch:   &branch,
		Auth:     sum,
	}
	if !wire.VerifyChecksum(call, "hunter2") {
		t.Fatal("expected checksum to verify")
	}

	mutated := call
	mutated.Author = "mallory"
	if wire.VerifyChecksum(mutated, "hunter2") {
		t.Fatal("expected checksum to fail after mutating author")
	}
}

// TestChecksumExcludesRevPrefix verifies v2's rev_prefix does not affect the hash.
func TestChecksumExcludesRevPrefix(t *testing.T) {
	sumA := wire.Checksum("repo", "42", nil, "log", "alice", nil, nil, "pw")
	call := wire.Call{RepoID: "repo", Revision: "42", Log: "log", Author: "alice", Auth: sumA, RevPrefix: "r"}
	if !wire.VerifyChecksum(call, "pw") {
		t.Fatal("expected checksum to verify regardless of rev_prefix")
	}
}

// TestEnsureUTF8RejectsInvalidBytes verifies a malformed byte sequence in
// any string field is rejected server-side.
func TestEnsureUTF8RejectsInvalidBytes(t *testing.T) {
	call := wire.Call{RepoID: "repo", Log: "bad \xff bytes", Author: "a", Revision: "1"}
	if err := call.EnsureUTF8(); err == nil {
		t.Fatal("expected UTF-8 validation error, got nil")
	}
}

// TestNormalizeUTF8PassesValidInputThrough verifies already-valid UTF-8 is untouched.
func TestNormalizeUTF8PassesValidInputThrough(t *testing.T) {
	s := "über cléver привет"
	if got := wire.NormalizeUTF8(s); got != s {
		t.Errorf("expected valid UTF-8 unchanged, got %q", got)
	}
}

// TestNormalizeUTF8TranscodesLatin1 verifies a Latin-1 byte sequence that is
// not valid UTF-8 is transcoded rather than rejected client-side.
func TestNormalizeUTF8TranscodesLatin1(t *testing.T) {
	latin1 := string([]byte{0xE9}) // 'é' in ISO-8859-1, invalid as UTF-8
	got := wire.NormalizeUTF8(latin1)
	if got == latin1 {
		t.Fatal("expected Latin-1 input to be transcoded")
	}
	if got != "é" {
		t.Errorf("unexpected transcoding result: %q", got)
	}
}

// TestCallParamsRoundTripsThroughDecode verifies Params() followed by
// DecodeCall reproduces the original fields of a v1 Call.
func TestCallParamsRoundTripsThroughDecode(t *testing.T) {
	branch := "main"
	module := "core"
	original := wire.Call{
		Version:  wire.V1,
		RepoID:   "repo",
		Auth:     "deadbeef",
		Revision: "7",
		Changes:  []string{"(A)file"},
		Log:      "log",
		Author:   "alice",
		Branch:   &branch,
		Module:   &module,
	}
	decoded, err := wire.DecodeCall(original.Params())
	if err != nil {
		t.Fatalf("DecodeCall returned error: %v", err)
	}
	if decoded.RepoID != original.RepoID || decoded.Auth != original.Auth || *decoded.Branch != branch {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}
