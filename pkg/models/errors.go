package models

import (
	"fmt"
	"net/http"
)

// MalformedContentError reports a content tree that does not have the
// expected shape.
type MalformedContentError struct {
	Reason string
}

func (e *MalformedContentError) Error() string {
	return "malformed content: " + e.Reason
}

// NetworkError reports a failed request, either at the transport level or
// through a non-2xx status code.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d %s (url: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FilesystemError reports a directory creation, write or rename failure.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// TranscodeError reports an image that could not be decoded or encoded.
type TranscodeError struct {
	Path string
	Err  error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Path, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }
