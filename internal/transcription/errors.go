package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/intake"
	"github.com/fmueller/voxserve/internal/whisper"
)

// Kind groups failures by who can fix them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindFormat     Kind = "format"
	KindResource   Kind = "resource"
	KindInternal   Kind = "internal"
)

type Code string

const (
	CodeMissingFilename     Code = "missing_filename"
	CodeFileTooLarge        Code = "file_too_large"
	CodeUnsupportedFile     Code = "unsupported_file_type"
	CodeEmptyFile           Code = "empty_file"
	CodeUnsupportedLanguage Code = "unsupported_language"
	CodeUnsupportedFormat   Code = "unsupported_format"
	CodeEmptyAudio          Code = "empty_audio"
	CodeOutOfResource       Code = "out_of_resource"
	CodeModelUnavailable    Code = "model_unavailable"
	CodeCanceled            Code = "request_canceled"
	CodeInternal            Code = "internal_error"
)

// Error is the outward-facing failure of a pipeline run. Message is safe to show
// to clients; Err keeps the full chain for logs.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code Code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

// AsError returns the classified error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func (s *Service) classify(err error) *Error {
	if e, ok := AsError(err); ok {
		return e
	}

	switch {
	case errors.Is(err, intake.ErrMissingFilename):
		return newError(KindValidation, CodeMissingFilename, "No file provided", err)
	case errors.Is(err, intake.ErrFileTooLarge):
		return newError(KindValidation, CodeFileTooLarge,
			fmt.Sprintf("File too large. Maximum size: %.1fMB", float64(s.intake.MaxSize())/(1024*1024)), err)
	case errors.Is(err, intake.ErrUnsupportedExtension):
		return newError(KindValidation, CodeUnsupportedFile,
			"Unsupported file format. Allowed: "+strings.Join(s.intake.Extensions(), ", "), err)
	case errors.Is(err, intake.ErrEmptyFile):
		return newError(KindValidation, CodeEmptyFile, "Uploaded file is empty", err)
	case errors.Is(err, whisper.ErrUnsupportedLanguage):
		return newError(KindValidation, CodeUnsupportedLanguage,
			"Unsupported language. See /api/v1/speech/languages for supported codes", err)
	case errors.Is(err, audio.ErrEmptyAudio):
		return newError(KindFormat, CodeEmptyAudio, "Audio file contains no samples", err)
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return newError(KindFormat, CodeUnsupportedFormat, "Could not decode audio file", err)
	case errors.Is(err, whisper.ErrOutOfResource):
		return newError(KindResource, CodeOutOfResource,
			"Not enough memory to transcribe this file. Try a shorter file, a smaller model or DEVICE=cpu", err)
	case errors.Is(err, whisper.ErrModelLoad):
		return newError(KindResource, CodeModelUnavailable,
			"Transcription model is not available. Check the server logs or run `voxserve setup`", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(KindResource, CodeCanceled, "Request was canceled before transcription finished", err)
	default:
		return newError(KindInternal, CodeInternal, "Transcription failed", err)
	}
}
