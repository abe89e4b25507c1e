package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultUTCOffset is the fixed storage offset (UTC+8).
const DefaultUTCOffset = 8 * time.Hour

// timeLayouts are tried in order. Layouts without a zone parse as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Reading is one normalised sensor value.
type Reading struct {
	DeviceID   int
	Field      Field
	Value      any // float64, or string for text fields
	ObservedAt time.Time
	Tag        string

	// QualityCode is carried through but not interpreted.
	QualityCode *float64
}

// payload is the wire shape published by the WinCC gateway.
type payload struct {
	Name        *string         `json:"name"`
	Value       json.RawMessage `json:"value"`
	Time        *string         `json:"time"`
	QualityCode *float64        `json:"qualityCode"`
}

// Normalizer turns raw MQTT payloads into Readings.
//
// Thread Safety:
//   - Immutable after construction; safe for concurrent use.
type Normalizer struct {
	catalog *Catalog
	zone    *time.Location
}

// NewNormalizer creates a normaliser that expresses timestamps at the
// given fixed offset from UTC. There is no DST handling.
func NewNormalizer(catalog *Catalog, offset time.Duration) *Normalizer {
	return &Normalizer{
		catalog: catalog,
		zone:    FixedZone(offset),
	}
}

// FixedZone returns the storage zone for an offset, e.g. "UTC+8".
func FixedZone(offset time.Duration) *time.Location {
	hours := offset.Hours()
	name := "UTC" + strconv.FormatFloat(hours, 'f', -1, 64)
	if hours >= 0 {
		name = "UTC+" + strconv.FormatFloat(hours, 'f', -1, 64)
	}
	return time.FixedZone(name, int(offset.Seconds()))
}

// Zone returns the storage zone readings are expressed in.
func (n *Normalizer) Zone() *time.Location {
	return n.zone
}

// Normalize decodes one payload and resolves its tag.
//
// The topic is informational only; the tag is taken from the payload's
// name field. Errors wrap one of the package sentinels so callers can
// classify the drop with errors.Is.
func (n *Normalizer) Normalize(topic string, data []byte) (Reading, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Name == nil {
		return Reading{}, fmt.Errorf("%w: name", ErrMissingField)
	}
	if len(p.Value) == 0 || bytes.Equal(bytes.TrimSpace(p.Value), []byte("null")) {
		return Reading{}, fmt.Errorf("%w: value", ErrMissingField)
	}
	if p.Time == nil {
		return Reading{}, fmt.Errorf("%w: time", ErrMissingField)
	}

	device, field, err := n.catalog.Resolve(*p.Name)
	if err != nil {
		return Reading{}, err
	}

	observed, err := n.parseTime(*p.Time)
	if err != nil {
		return Reading{}, err
	}

	value, err := parseValue(p.Value, field)
	if err != nil {
		return Reading{}, fmt.Errorf("%s: %w", *p.Name, err)
	}

	return Reading{
		DeviceID:    device,
		Field:       field,
		Value:       value,
		ObservedAt:  observed,
		Tag:         strings.TrimSpace(*p.Name),
		QualityCode: p.QualityCode,
	}, nil
}

// parseTime accepts ISO-8601 with or without a zone suffix. Zoneless
// values are UTC.
func (n *Normalizer) parseTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(n.zone), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
}

// parseValue converts the raw JSON value. Numbers and numeric strings
// become float64 except for text fields, which keep the string form.
// A non-numeric string for a numeric field is rejected: the column is
// REAL or DOUBLE PRECISION and one bad value would sink the whole row.
func parseValue(raw json.RawMessage, field Field) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	switch val := v.(type) {
	case float64:
		if field.IsText() {
			return strconv.FormatFloat(val, 'f', -1, 64), nil
		}
		return val, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, fmt.Errorf("%w: empty string", ErrInvalidValue)
		}
		if field.IsText() {
			return s, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: %q", ErrInvalidValue, s)
			}
			return f, nil
		}
		return nil, fmt.Errorf("%w: %q is not numeric", ErrInvalidValue, s)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
}
