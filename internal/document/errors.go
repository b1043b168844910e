package document

import (
	"errors"
	"strings"
)

// Error kinds. Every error returned by [Dir] wraps exactly one of the first
// four and can be matched with [errors.Is].
var (
	// ErrRead is a failure to read a board document (StorageReadError).
	ErrRead = errors.New("storage read")

	// ErrWrite is a failure to write a board document (StorageWriteError).
	ErrWrite = errors.New("storage write")

	// ErrDelete is a failure to delete a board document (StorageDeleteError).
	ErrDelete = errors.New("storage delete")

	// ErrParse is a document whose header is missing or malformed
	// (MarkdownParseError).
	ErrParse = errors.New("markdown parse")

	// ErrNotFound is returned, wrapped in ErrRead or ErrDelete, when the
	// board document does not exist.
	ErrNotFound = errors.New("board document not found")
)

// Error carries the board id and document path of a failed operation.
//
// It formats as "<kind>: <cause> (board_id=X path=Y)":
//
//	storage read: lock acquisition failed: abc.md: still held after 10 attempts (board_id=abc path=/data/abc.md)
//
// Use [errors.As] to extract the fields and [errors.Is] to test the kind or
// the underlying cause.
type Error struct {
	// Kind is one of ErrRead, ErrWrite, ErrDelete, ErrParse.
	Kind error

	ID   string
	Path string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder

	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}

	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}

		b.WriteString(e.Err.Error())
	}

	var ctx []string
	if e.ID != "" {
		ctx = append(ctx, "board_id="+e.ID)
	}

	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}

	if len(ctx) > 0 {
		b.WriteString(" (" + strings.Join(ctx, " ") + ")")
	}

	return b.String()
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}

	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// wrap returns err as an *Error of kind. An existing *Error of any kind is
// returned as is, with missing id and path filled in, so a parse failure
// inside a read stays a parse failure.
func wrap(kind, err error, id, path string) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.ID == "" {
			existing.ID = id
		}

		if existing.Path == "" {
			existing.Path = path
		}

		return existing
	}

	return &Error{Kind: kind, ID: id, Path: path, Err: err}
}
