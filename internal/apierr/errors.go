// Package apierr is the error taxonomy shared by every layer of the control
// plane, from the Store/Fabric gateways up through the Ingress API.
//
// Classification happens at the layer that knows the semantics (a
// BudgetExceeded comes from the Cost Ledger or from a direct budget
// comparison in the upload handler and the Orchestrator's pre-stage check;
// a RateLimited comes from a Rate Limiter verdict, written by the limiter's
// middleware or the upload handler); higher layers translate a *Error into
// an HTTP envelope at the ingress boundary and nowhere else.
package apierr

import "fmt"

// Kind is the taxonomy of error classes the control plane distinguishes.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindAuth           Kind = "AUTH"
	KindOwnership      Kind = "OWNERSHIP"
	KindNotFound       Kind = "NOT_FOUND"
	KindGone           Kind = "GONE"
	KindConflict       Kind = "CONFLICT"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindBudgetExceeded Kind = "BUDGET_EXCEEDED"
	KindRetryable      Kind = "RETRYABLE"
	KindPipeline       Kind = "PIPELINE"
	KindConfig         Kind = "CONFIG"
)

// Error is the single error type passed between control-plane layers.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter int  // seconds; only meaningful for KindRateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the Worker Pool may re-enter the dequeue loop
// for this error rather than treating it as a terminal job failure.
func (e *Error) Retryable() bool { return e.Kind == KindRetryable }

func new_(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, cause: cause}
}

func Validation(format string, args ...interface{}) *Error {
	return new_(KindValidation, "VALIDATION", fmt.Sprintf(format, args...), nil)
}

func Auth(code, format string, args ...interface{}) *Error {
	return new_(KindAuth, code, fmt.Sprintf(format, args...), nil)
}

// AuthInvalidToken and AuthMissingSubject are distinct Auth failure codes
// per the Token Validator contract (§4.C): a token that fails to verify
// is a different condition from one that verifies but carries no subject
// claim.
func AuthInvalidToken(format string, args ...interface{}) *Error {
	return Auth("AUTH_INVALID_TOKEN", format, args...)
}

func AuthMissingSubject(format string, args ...interface{}) *Error {
	return Auth("AUTH_MISSING_SUBJECT", format, args...)
}

func Ownership(format string, args ...interface{}) *Error {
	return new_(KindOwnership, "OWNERSHIP", fmt.Sprintf(format, args...), nil)
}

func NotFound(format string, args ...interface{}) *Error {
	return new_(KindNotFound, "NOT_FOUND", fmt.Sprintf(format, args...), nil)
}

func Gone(format string, args ...interface{}) *Error {
	return new_(KindGone, "GONE", fmt.Sprintf(format, args...), nil)
}

func Conflict(format string, args ...interface{}) *Error {
	return new_(KindConflict, "CONFLICT", fmt.Sprintf(format, args...), nil)
}

func RateLimited(retryAfter int, format string, args ...interface{}) *Error {
	e := new_(KindRateLimited, "RATE_LIMITED", fmt.Sprintf(format, args...), nil)
	e.RetryAfter = retryAfter
	return e
}

func BudgetExceeded(format string, args ...interface{}) *Error {
	return new_(KindBudgetExceeded, "BUDGET_EXCEEDED", fmt.Sprintf(format, args...), nil)
}

func Retryable(cause error, format string, args ...interface{}) *Error {
	return new_(KindRetryable, "RETRYABLE", fmt.Sprintf(format, args...), cause)
}

func Pipeline(cause error, format string, args ...interface{}) *Error {
	return new_(KindPipeline, "PIPELINE_ERROR", fmt.Sprintf(format, args...), cause)
}

func Config(format string, args ...interface{}) *Error {
	return new_(KindConfig, "CONFIG", fmt.Sprintf(format, args...), nil)
}

// As extracts an *Error from err, if any layer wrapped one with %w.
func As(err error) (*Error, bool) {
	var e *Error
	if err == nil {
		return nil, false
	}
	if ae, ok := err.(*Error); ok {
		return ae, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	_ = e
	return nil, false
}
