package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	currencyRegex = regexp.MustCompile(`^[a-zA-Z]{3}$`)
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// ValidateEmail checks if an email address is valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// ValidateCurrency checks for a three-letter ISO 4217 code in either case.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidateDocumentKey rejects keys that would address a different node of
// the document tree.
func ValidateDocumentKey(kind, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if strings.ContainsAny(key, "/.#$[]") {
		return fmt.Errorf("%s contains illegal characters", kind)
	}
	return nil
}

// ValidateCredit checks the inputs of a ledger credit.
func ValidateCredit(p CreditParams) error {
	if err := ValidateDocumentKey("user id", p.UserID); err != nil {
		return ErrValidation(err.Error())
	}
	if err := ValidateDocumentKey("transaction key", p.TransactionKey); err != nil {
		return ErrValidation(err.Error())
	}
	if p.Tokens <= 0 {
		return ErrInvalidCredit(p.Tokens)
	}
	if !p.Purchase.Status.Valid() {
		return ErrValidation(fmt.Sprintf("unsupported purchase status %q", p.Purchase.Status))
	}
	if p.Purchase.Currency != "" {
		if err := ValidateCurrency(p.Purchase.Currency); err != nil {
			return ErrValidation(err.Error())
		}
	}
	return nil
}
