package models

import "fmt"

// Error kinds classify stage failures so recovery points can match on them
// with errors.As. Only ConfigError (and context cancellation) ever reach the
// pipeline caller; every other kind is recovered where it occurs.

// ConfigError reports invalid configuration. Fatal, pre-run.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// SearchError reports a failed search provider call.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// TranscriptError reports an unexpected transcript fetch failure.
// A video simply lacking captions is not an error (the provider returns nil).
type TranscriptError struct {
	VideoID string
	Err     error
}

func (e *TranscriptError) Error() string {
	return fmt.Sprintf("transcript %s: %v", e.VideoID, e.Err)
}

func (e *TranscriptError) Unwrap() error { return e.Err }

// TextModelError reports a failed text model call or unusable response.
type TextModelError struct {
	Op  string
	Err error
}

func (e *TextModelError) Error() string {
	return fmt.Sprintf("text model %s: %v", e.Op, e.Err)
}

func (e *TextModelError) Unwrap() error { return e.Err }

// VideoModelError reports a failed video model analysis.
type VideoModelError struct {
	Path string
	Err  error
}

func (e *VideoModelError) Error() string {
	return fmt.Sprintf("video model %s: %v", e.Path, e.Err)
}

func (e *VideoModelError) Unwrap() error { return e.Err }

// ExtractionError reports a failed or invalid clip extraction.
type ExtractionError struct {
	VideoID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.VideoID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
