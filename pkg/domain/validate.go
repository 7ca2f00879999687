package domain

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxMessageTextLen bounds the raw (untrimmed) message text, in characters.
	MaxMessageTextLen = 255
	// MinPasswordLen is the shortest accepted password.
	MinPasswordLen = 4
)

var (
	validate = newValidator()

	messageTextMaxTag = "max=" + strconv.Itoa(MaxMessageTextLen)
	passwordMinTag    = "min=" + strconv.Itoa(MinPasswordLen)
)

func newValidator() *validator.Validate {
	v := validator.New()
	// notblank rejects strings that are empty once surrounding whitespace is stripped.
	if err := v.RegisterValidation("notblank", notBlank); err != nil {
		panic(err)
	}
	return v
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// ValidateMessageText checks the text rules shared by message creation and update:
// non-blank after trimming, and at most MaxMessageTextLen characters untrimmed.
func ValidateMessageText(text string) error {
	if err := validate.Var(text, "notblank"); err != nil {
		return Validation(ReasonMessageTextBlank)
	}
	if err := validate.Var(text, messageTextMaxTag); err != nil {
		return Validation(ReasonMessageTextTooLong)
	}
	return nil
}

// ValidateCredentials checks username then password, stopping at the first failure.
func ValidateCredentials(username, password string) error {
	if err := validate.Var(username, "notblank"); err != nil {
		return Validation(ReasonUsernameBlank)
	}
	if err := validate.Var(password, passwordMinTag); err != nil {
		return Validation(ReasonPasswordTooShort)
	}
	return nil
}
