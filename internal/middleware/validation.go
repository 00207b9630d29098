package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct checks v against its validate tags and reports the first
// failing fields in a client-facing message.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s exceeds maximum length", field)
	}
	return fmt.Sprintf("%s is invalid", field)
}

// ValidateThreadID validates a thread ID taken from the path.
func ValidateThreadID(id string) error {
	if id == "" {
		return errors.New("thread ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("thread ID exceeds maximum length")
	}
	if !utf8.ValidString(id) || strings.ContainsAny(id, " \t\r\n.*>") {
		return errors.New("invalid thread ID format")
	}
	return nil
}
