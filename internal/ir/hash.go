package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainOp = "canopy/op/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OpID computes the content-addressed ID for an op.
// Two deliveries of the same op (duplicates, echoes) share an ID, which is
// what the journal uses for idempotent appends.
func OpID(op Op) (string, error) {
	canonical, err := MarshalCanonical(op)
	if err != nil {
		return "", fmt.Errorf("OpID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOp, canonical), nil
}

// MustOpID is OpID for ops built in-process, whose values are always encodable.
func MustOpID(op Op) string {
	id, err := OpID(op)
	if err != nil {
		panic(err)
	}
	return id
}
