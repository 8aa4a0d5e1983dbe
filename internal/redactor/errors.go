package redactor

import (
	"errors"
	"fmt"
)

// Kind classifies a redaction failure so callers can map it to a
// transport-level response without string matching.
type Kind string

const (
	// KindDecode means the input bytes are not a supported raster image.
	KindDecode Kind = "decode_error"
	// KindDetection means the remote face-detection call failed, timed
	// out, or returned a malformed response.
	KindDetection Kind = "detection_service_error"
	// KindEncode means the requested output format is unsupported or
	// serialization failed.
	KindEncode Kind = "encode_error"
	// KindConfiguration means a request parameter is invalid.
	KindConfiguration Kind = "configuration_error"
)

// Error is a classified redaction failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error chain; the empty Kind
// means the error did not originate in the redaction pipeline.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
