package store

import (
	"encoding/json"
	"fmt"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// encodeEntity serializes an entity for the body column.
//
// Bodies hold time values (schedule, last sync), which canonical JSON does
// not admit, so the standard encoder is used. Bodies are never hashed.
func encodeEntity(e ir.Entity) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", e.Ref(), err)
	}
	return string(data), nil
}

// decodeEntity parses a body column into a fresh entity of kind.
func decodeEntity(kind ir.EntityKind, body string) (ir.Entity, error) {
	e, err := ir.NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return e, nil
}
