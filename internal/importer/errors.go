package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is logged when an event arrives in a state that does not
	// accept it. The event is ignored.
	ErrInvalidState = errors.New("event not valid in current state")
	// ErrRenderFailed wraps renderer errors. The revision is stored with the
	// plain-text fallback body.
	ErrRenderFailed = errors.New("render failed")
	// ErrRevisionCapture is returned when the parsed content of a revision
	// cannot be captured.
	ErrRevisionCapture = errors.New("revision capture failed")
	// ErrPagePersistence wraps any failure while writing a page.
	ErrPagePersistence = errors.New("page persistence failed")
)

// SkipReason says why the validation gate rejected a page.
type SkipReason string

const (
	SkipBlankName    SkipReason = "blank page name"
	SkipBlankSpace   SkipReason = "blank space"
	SkipCategoryPage SkipReason = "category page"
)

// SkipError reports a page dropped by the validation gate before any write.
type SkipError struct {
	Title  string
	Reason SkipReason
}

func (e *SkipError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("page skipped: %s", e.Reason)
	}
	return fmt.Sprintf("page %q skipped: %s", e.Title, e.Reason)
}

// IsSkip reports whether err is a validation skip.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}
