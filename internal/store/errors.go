package store

import "errors"

// Domain errors for store operations.
var (
	// ErrUnknownTable indicates a table name outside the whitelist.
	ErrUnknownTable = errors.New("store: unknown table")

	// ErrUnknownColumn indicates a column name outside the whitelist.
	ErrUnknownColumn = errors.New("store: unknown column")

	// ErrNoColumns indicates an insert with no fields.
	ErrNoColumns = errors.New("store: no columns to insert")

	// ErrInvalidDevice indicates a device number below 1.
	ErrInvalidDevice = errors.New("store: invalid device")
)
