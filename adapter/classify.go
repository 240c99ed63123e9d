package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// ClassifiedError carries an explicit kind through an error chain.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	return &ClassifiedError{Kind: KindPermanent, Err: err}
}

// Classify maps an error to an ErrorKind. Explicit classification via
// ClassifiedError wins; network errors, timeouts and cancellation are
// transient; everything unknown defaults to transient so a
// misclassification wastes retries instead of silently dropping work.
func Classify(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindTransient
}

// ClassifyStatus maps an HTTP status code from the remote system to an
// ErrorKind: 408, 429 and 5xx are transient, other 4xx are permanent.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}
