// Package editerr defines the error taxonomy shared by the editor packages.
//
// Every failure that reaches a user is an *Error carrying a Kind. The kind
// decides both the message shown to the user and whether the current image
// is still editable.
package editerr

import (
	"errors"
	"fmt"
)

// Kind classifies an editing failure.
type Kind int

const (
	// Unknown is used for errors that did not originate in this module.
	Unknown Kind = iota
	// Decode: the source image is missing, unreadable or zero-sized.
	Decode
	// InvalidGeometry: a crop rectangle degenerated after clamping.
	InvalidGeometry
	// Render: the output surface could not be composed.
	Render
	// Security: pixel read was denied for a cross-origin raster.
	Security
	// Encode: the surface could not be encoded to bytes.
	Encode
	// Upload: the external upload step failed. Never fatal to the edit.
	Upload
)

var kindNames = map[Kind]string{
	Unknown:         "unknown",
	Decode:          "decode",
	InvalidGeometry: "invalid_geometry",
	Render:          "render",
	Security:        "security",
	Encode:          "encode",
	Upload:          "upload",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "source.load", "compositor.encode").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and operation name. A nil err yields a plain
// error built from the kind.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		err = errors.New(kind.String() + " failed")
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is New with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Terminal reports whether err ends editing of the current image. Decode and
// security failures do; render and encode failures during preview do not.
func Terminal(err error) bool {
	switch KindOf(err) {
	case Decode, Security:
		return true
	}
	return false
}

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case Decode:
		return "Failed to load the image. Please pick a different image."
	case InvalidGeometry:
		return "The selected crop area is empty. Adjust the crop and try again."
	case Security:
		return "Cannot edit this image due to cross-origin restrictions."
	case Upload:
		return "Using temporary image. The image may not persist after page refresh."
	default:
		return "Error editing image. Try again or use a different image."
	}
}
