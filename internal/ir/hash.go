package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPayload = "opsync/payload/v1"
	DomainAttempt = "opsync/attempt/v1"
	DomainCreate  = "opsync/create/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash identifies the exact field values an entity would send.
func PayloadHash(e Entity) (string, error) {
	canonical, err := MarshalCanonical(e.Payload())
	if err != nil {
		return "", fmt.Errorf("PayloadHash: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// AttemptID identifies one remote call for an entity at a given revision.
// Retrying the same revision reuses the id, so the remote can treat the
// retry as idempotent.
func AttemptID(ref EntityRef, op string, rev int64) string {
	canonical, _ := MarshalCanonical(map[string]any{
		"kind": string(ref.Kind),
		"id":   ref.ID,
		"op":   op,
		"rev":  rev,
	})
	return hashWithDomain(DomainAttempt, canonical)
}

// CreateKey is the idempotency key for creating a locally-born entity. It
// depends only on the local id, so a create retried after a timeout that
// actually reached the server resolves to the same server id.
func CreateKey(localID string) string {
	return hashWithDomain(DomainCreate, []byte(localID))
}
