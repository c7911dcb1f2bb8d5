package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainTrace = "marty/trace/v1"
	DomainState = "marty/state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TraceDigest hashes the canonical ToJSON form of a record.
// Two records with identical observable content share a digest regardless
// of ID or Seq, which is what replay compares.
func TraceDigest(t *ActionTrace) (string, error) {
	canonical, err := MarshalCanonical(t.ToJSON())
	if err != nil {
		return "", fmt.Errorf("TraceDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}

// StateDigest hashes a state snapshot.
func StateDigest(v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("StateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// MustTraceDigest is like TraceDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTraceDigest(t *ActionTrace) string {
	d, err := TraceDigest(t)
	if err != nil {
		panic(err)
	}
	return d
}
