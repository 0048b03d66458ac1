package handoff

import (
	"encoding/json"
	"fmt"

	"github.com/fkorte/agentpod/internal/domain"
)

// FieldType is the declared type of one payload field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
	FieldArray  FieldType = "array"
)

// CheckPayload validates the payload against the protocol's schema: every
// schema field must be present and type-compatible. Extra payload fields
// pass (future-proof for new message fields, mirroring queue validation).
func (p *Protocol) CheckPayload() error {
	const op = "handoff.CheckPayload"
	for field, ft := range p.PayloadSchema {
		v, ok := p.Payload[field]
		if !ok {
			return domain.E(domain.KindValidation, op,
				fmt.Sprintf("payload missing field %q", field))
		}
		if !matches(ft, v) {
			return domain.E(domain.KindValidation, op,
				fmt.Sprintf("payload field %q is not a %s", field, ft))
		}
	}
	return nil
}

func matches(ft FieldType, v any) bool {
	switch ft {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return true
		}
		return false
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldObject:
		_, ok := v.(map[string]any)
		return ok
	case FieldArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}
