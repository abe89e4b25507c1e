package telemetry

import "errors"

// Domain errors for tag resolution and payload normalisation.
var (
	// ErrUnmappedTag indicates the tag's base name is not in the catalog.
	// Unused channels produce this routinely; it is not a fault.
	ErrUnmappedTag = errors.New("telemetry: unmapped tag")

	// ErrDeviceOutOfRange indicates the inferred device number is outside 1..max.
	ErrDeviceOutOfRange = errors.New("telemetry: device out of range")

	// ErrMalformedPayload indicates the payload is not a JSON object.
	ErrMalformedPayload = errors.New("telemetry: malformed payload")

	// ErrMissingField indicates name, value or time is absent or null.
	ErrMissingField = errors.New("telemetry: missing field")

	// ErrInvalidTime indicates the time field could not be parsed.
	ErrInvalidTime = errors.New("telemetry: invalid time")

	// ErrInvalidValue indicates the value is neither a number nor a non-empty string.
	ErrInvalidValue = errors.New("telemetry: invalid value")

	// ErrInvalidMachineName indicates a machine name not of the form "N#".
	ErrInvalidMachineName = errors.New("telemetry: invalid machine name")
)
