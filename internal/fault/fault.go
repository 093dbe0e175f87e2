// Package fault classifies errors by how a run reacts to them.
//
// ConfigurationError aborts a run before any document is touched.
// ExtractionError and RemoteUpdateError fail a single document and the
// batch carries on.
package fault

import "errors"

// Kind names an error class in logs and run history.
type Kind string

const (
	KindExtraction    Kind = "extraction"
	KindRemoteUpdate  Kind = "remote_update"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// ExtractionError wraps a failure to turn a document into a metadata record:
// unreadable PDF, OCR failure, LLM call failure or malformed LLM output.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return e.Err.Error() }
func (e *ExtractionError) Unwrap() error { return e.Err }

// RemoteUpdateError wraps a Zotero read or write failure.
type RemoteUpdateError struct {
	Err error
}

func (e *RemoteUpdateError) Error() string { return e.Err.Error() }
func (e *RemoteUpdateError) Unwrap() error { return e.Err }

// ConfigurationError wraps missing or invalid credentials, paths or flags.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Extraction wraps err as an ExtractionError. Nil stays nil.
func Extraction(err error) error {
	if err == nil {
		return nil
	}
	return &ExtractionError{Err: err}
}

// RemoteUpdate wraps err as a RemoteUpdateError. Nil stays nil.
func RemoteUpdate(err error) error {
	if err == nil {
		return nil
	}
	return &RemoteUpdateError{Err: err}
}

// Configuration wraps err as a ConfigurationError. Nil stays nil.
func Configuration(err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Err: err}
}

// IsExtraction reports whether err (or any error in its chain) is an ExtractionError.
func IsExtraction(err error) bool {
	var e *ExtractionError
	return errors.As(err, &e)
}

// IsRemoteUpdate reports whether err (or any error in its chain) is a RemoteUpdateError.
func IsRemoteUpdate(err error) bool {
	var e *RemoteUpdateError
	return errors.As(err, &e)
}

// IsConfiguration reports whether err (or any error in its chain) is a ConfigurationError.
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// KindOf returns the class of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsConfiguration(err):
		return KindConfiguration
	case IsRemoteUpdate(err):
		return KindRemoteUpdate
	case IsExtraction(err):
		return KindExtraction
	default:
		return KindUnknown
	}
}
