package reconcile

import "errors"

// Domain errors for the reconciliation path.
var (
	// ErrNoSourceURL indicates the snapshot source URL is not configured.
	ErrNoSourceURL = errors.New("reconcile: source url is required")

	// ErrNoSource indicates the poller was built without a source.
	ErrNoSource = errors.New("reconcile: source is required")

	// ErrNoStore indicates the poller was built without a storage handle.
	ErrNoStore = errors.New("reconcile: store is required")

	// ErrAlreadyRunning indicates a pass is already in progress.
	ErrAlreadyRunning = errors.New("reconcile: pass already running")

	// ErrSourceRejected indicates the source answered but refused the
	// request (non-200 envelope code or a 4xx status). Not retried.
	ErrSourceRejected = errors.New("reconcile: source rejected request")

	// ErrBadResponse indicates the source body could not be decoded.
	ErrBadResponse = errors.New("reconcile: bad source response")

	// ErrSourceUnavailable indicates the circuit breaker is open.
	ErrSourceUnavailable = errors.New("reconcile: source unavailable")
)
