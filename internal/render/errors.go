package render

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateUnavailable means the template could not be fetched or
	// parsed.
	ErrTemplateUnavailable = errors.New("template unavailable")
	// ErrRenderFailure means the template was read but producing the PDF
	// failed.
	ErrRenderFailure = errors.New("render failed")
)

// Render stages.
const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StageFill    = "fill"
	StageConvert = "convert"
	StageEmit    = "emit"
	StageExport  = "export"
)

// StageError records the template and the stage a render failed in. It
// matches both its kind sentinel and the underlying cause with errors.Is.
type StageError struct {
	Template string
	Stage    string
	Err      error
	// Dirty is set when the failed render may already have written into
	// the template instance it was filling.
	Dirty bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.Template, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func unavailable(tpl Template, stage string, err error) error {
	return &StageError{Template: tpl.label(), Stage: stage, Err: fmt.Errorf("%w: %w", ErrTemplateUnavailable, err)}
}

func failure(tpl Template, stage string, err error) error {
	return &StageError{Template: tpl.label(), Stage: stage, Err: fmt.Errorf("%w: %w", ErrRenderFailure, err)}
}

// Dirty reports whether err comes from a render that may have changed its
// template instance.
func Dirty(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Dirty
}
