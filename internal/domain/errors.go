package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of one analysis step.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindStorageUnavailable      Kind = "storage_unavailable"
	KindStorageWrite            Kind = "storage_write"
	KindVisionService           Kind = "vision_service"
	KindVisionResponseMalformed Kind = "vision_response_malformed"
	KindCreditUpdate            Kind = "credit_update"
	KindAuditLog                Kind = "audit_log"
	KindUnknown                 Kind = "unknown"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrValidation              = &Error{Kind: KindValidation}
	ErrStorageUnavailable      = &Error{Kind: KindStorageUnavailable}
	ErrStorageWrite            = &Error{Kind: KindStorageWrite}
	ErrVisionService           = &Error{Kind: KindVisionService}
	ErrVisionResponseMalformed = &Error{Kind: KindVisionResponseMalformed}
	ErrCreditUpdate            = &Error{Kind: KindCreditUpdate}
	ErrAuditLog                = &Error{Kind: KindAuditLog}
)

// Error is returned by every collaborator of the analysis flow. StatusCode and Body
// are set when the failure came from an upstream HTTP response.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewUpstreamError records the upstream status and body for diagnostics.
func NewUpstreamError(kind Kind, op string, status int, body string) *Error {
	return &Error{
		Kind:       kind,
		Op:         op,
		StatusCode: status,
		Body:       body,
		Err:        fmt.Errorf("upstream responded with status %d", status),
	}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
