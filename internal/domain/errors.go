package domain

import "fmt"

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code, so callers can test
// errors.Is(err, domain.ErrUserNotFound("")) without caring about the message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeConflict             = "CONFLICT"
	CodeUpstream             = "UPSTREAM_ERROR"
	CodeUnresolvablePrice    = "UNRESOLVABLE_PRICE"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeInvalidCredit        = "INVALID_CREDIT"
	CodeVerificationMismatch = "VERIFICATION_MISMATCH"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodePaymentIncomplete    = "PAYMENT_INCOMPLETE"
	CodeAccountLocked        = "ACCOUNT_LOCKED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeNotConfigured        = "NOT_CONFIGURED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Standard domain error constructors.

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

// ErrUpstream wraps a third-party failure. The provider text stays in Cause
// and is never written to the client.
func ErrUpstream(msg string, cause error) *AppError {
	return &AppError{Code: CodeUpstream, Message: msg, Status: 500, Cause: cause}
}

func ErrUnresolvablePrice(priceKey string) *AppError {
	return &AppError{
		Code:    CodeUnresolvablePrice,
		Message: fmt.Sprintf("could not determine token amount for price %s", priceKey),
		Status:  400,
	}
}

// ErrUserNotFound is a 500: a purchase for an unprovisioned user means the
// account bootstrap upstream is broken.
func ErrUserNotFound(userID string) *AppError {
	return &AppError{Code: CodeUserNotFound, Message: fmt.Sprintf("user %s not found in ledger", userID), Status: 500}
}

func ErrInvalidCredit(tokens int64) *AppError {
	return &AppError{Code: CodeInvalidCredit, Message: fmt.Sprintf("credit must be a positive token count, got %d", tokens), Status: 400}
}

func ErrVerificationMismatch(expected, actual int64) *AppError {
	return &AppError{
		Code:    CodeVerificationMismatch,
		Message: fmt.Sprintf("token balance verification failed: expected %d, found %d", expected, actual),
		Status:  500,
	}
}

func ErrInvalidSignature(cause error) *AppError {
	return &AppError{Code: CodeInvalidSignature, Message: "invalid webhook signature", Status: 400, Cause: cause}
}

func ErrPaymentIncomplete(paymentStatus string) *AppError {
	return &AppError{Code: CodePaymentIncomplete, Message: fmt.Sprintf("payment not completed (status %s)", paymentStatus), Status: 400}
}

func ErrAccountLocked(msg string) *AppError {
	return &AppError{Code: CodeAccountLocked, Message: msg, Status: 429}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrNotConfigured(what string) *AppError {
	return &AppError{Code: CodeNotConfigured, Message: fmt.Sprintf("%s is not configured", what), Status: 500}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}
