package job

import "errors"

// Error taxonomy surfaced by the pipeline and its adapters. Adapters
// normalize external tool failures into these sentinels; callers match with
// errors.Is.
var (
	ErrInvalidSource    = errors.New("invalid or unsupported source URL")
	ErrGeoRestricted    = errors.New("source is restricted in this region")
	ErrLiveUnsupported  = errors.New("live streams are not supported")
	ErrTooLarge         = errors.New("file exceeds the delivery size limit")
	ErrAlreadyRunning   = errors.New("a request for this requester is already in flight")
	ErrCancelled        = errors.New("cancelled by requester")
	ErrTransformTimeout = errors.New("compression timed out")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrShuttingDown     = errors.New("not accepting new requests")
	ErrUnknown          = errors.New("retrieval failed")
)
