package edit

import (
	"errors"
	"fmt"
)

// Reason names why an edit could not be parsed or applied.
type Reason string

const (
	ReasonMissingFilename   Reason = "missing_filename"
	ReasonAmbiguousMatch    Reason = "ambiguous_match"
	ReasonBadHunkHeader     Reason = "bad_hunk_header"
	ReasonFileExists        Reason = "file_exists"
	ReasonMissingFile       Reason = "missing_file"
	ReasonEmptyResponse     Reason = "empty_response"
	ReasonUnterminatedBlock Reason = "unterminated_block"
	ReasonPartialApply      Reason = "partial_apply"
)

// MalformedEdit is returned when model output cannot be turned into a safe mutation.
// It is always fed back to the model and may be retried.
type MalformedEdit struct {
	Reason Reason
	Path   string
	Detail string
}

func (e *MalformedEdit) Error() string {
	msg := "malformed edit: " + string(e.Reason)
	if e.Path != "" {
		msg += " in " + e.Path
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Malformed builds a MalformedEdit with a formatted detail.
func Malformed(reason Reason, path, format string, args ...any) *MalformedEdit {
	return &MalformedEdit{Reason: reason, Path: path, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the MalformedEdit reason from err, or "".
func ReasonOf(err error) Reason {
	var me *MalformedEdit
	if errors.As(err, &me) {
		return me.Reason
	}
	return ""
}

// ErrPathEscape marks a path resolving outside the workspace root. Never retried.
var ErrPathEscape = errors.New("path escapes workspace")

// PathEscapeError carries the offending path.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrPathEscape.Error(), e.Path)
}

func (e *PathEscapeError) Unwrap() error {
	return ErrPathEscape
}
