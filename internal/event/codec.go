package event

import (
	"encoding/json"
	"fmt"
	"time"

	"ally/internal/constants"
)

// Fields is what XADD writes and XREADGROUP returns: a flat field map with
// JSON-encoded source and payload. The dead-letter path preserves this map
// verbatim so a replay re-appends byte-identical fields.
type Fields = map[string]interface{}

func FieldsFromEnvelope(env *Envelope) (Fields, error) {
	sourceJSON, err := json.Marshal(env.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal source: %w", err)
	}

	payload := env.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	return Fields{
		constants.FieldVersion:        env.Version,
		constants.FieldIdempotencyKey: env.IdempotencyKey,
		constants.FieldProjectID:      env.ProjectID,
		constants.FieldPlatform:       env.Platform,
		constants.FieldType:           env.Type,
		constants.FieldTS:             env.TS.UTC().Format(time.RFC3339Nano),
		constants.FieldSource:         string(sourceJSON),
		constants.FieldPayload:        string(payload),
	}, nil
}

func EnvelopeFromFields(fields Fields) (*Envelope, error) {
	env := &Envelope{
		Version:        stringField(fields, constants.FieldVersion),
		IdempotencyKey: stringField(fields, constants.FieldIdempotencyKey),
		ProjectID:      stringField(fields, constants.FieldProjectID),
		Platform:       stringField(fields, constants.FieldPlatform),
		Type:           stringField(fields, constants.FieldType),
	}

	tsRaw := stringField(fields, constants.FieldTS)
	if tsRaw == "" {
		return nil, fmt.Errorf("missing field %q", constants.FieldTS)
	}
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", tsRaw, err)
	}
	env.TS = ts

	if sourceRaw := stringField(fields, constants.FieldSource); sourceRaw != "" {
		if err := json.Unmarshal([]byte(sourceRaw), &env.Source); err != nil {
			return nil, fmt.Errorf("invalid source field: %w", err)
		}
	}

	if payloadRaw := stringField(fields, constants.FieldPayload); payloadRaw != "" {
		if !json.Valid([]byte(payloadRaw)) {
			return nil, fmt.Errorf("payload field is not valid JSON")
		}
		env.Payload = json.RawMessage(payloadRaw)
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	return env, nil
}

func stringField(fields Fields, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
