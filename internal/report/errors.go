package report

import "errors"

var (
	// ErrUnsupportedFormat is returned for a format no renderer handles.
	ErrUnsupportedFormat = errors.New("unsupported report format")
	// ErrSourceNotReady is returned when the source record has not completed.
	ErrSourceNotReady = errors.New("report source is not ready")
	// ErrNotFound is returned for unknown sources or reports, and for those owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for a missing source id or an unknown source type.
	ErrInvalidRequest = errors.New("invalid report request")
	// ErrNotGenerated is returned when downloading a report that has not completed.
	ErrNotGenerated = errors.New("report has not been generated")
	// ErrInvalidTemplate is returned for a malformed template, or one that does not support the requested format.
	ErrInvalidTemplate = errors.New("invalid report template")
)
