package contracts

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// Validate applies defaults to cmd and checks it against the v1 contract.
// A missing contractVersion defaults to v1; any other value fails closed.
func Validate(cmd Command) error {
	if cmd == nil || reflect.ValueOf(cmd).IsNil() {
		return &SchemaError{Reason: "required", Message: "command is required"}
	}

	cmd.applyDefaults()

	return validateEnvelope(cmd, cmd.Meta())
}

// ValidateSend checks a single outbound message request.
func ValidateSend(cmd *SendCommand) error {
	if cmd == nil {
		return &SchemaError{Reason: "required", Message: "command is required"}
	}

	cmd.applyDefaults()

	return validateEnvelope(cmd, &cmd.Envelope)
}

func validateEnvelope(cmd any, envelope *Envelope) error {
	if envelope.ContractVersion == "" {
		envelope.ContractVersion = ContractVersion
	}

	if envelope.ContractVersion != ContractVersion {
		return &SchemaError{
			Field:   "contractVersion",
			Reason:  string(CodeInvalidContractVersion),
			Message: fmt.Sprintf("unsupported contract version %q, expected %q", envelope.ContractVersion, ContractVersion),
		}
	}

	return schemaError(validate.Struct(cmd))
}

// ValidateStruct checks a boundary request that is not a versioned command.
func ValidateStruct(v any) error {
	return schemaError(validate.Struct(v))
}

func schemaError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return &SchemaError{Reason: "invalid", Message: err.Error()}
	}

	first := fieldErrors[0]

	return &SchemaError{
		Field:   fieldPath(first.Namespace()),
		Reason:  first.Tag(),
		Message: describe(first),
	}
}

// fieldPath drops the struct type prefix and embedded envelope segment.
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}

	if len(parts) > 1 && parts[0] == "Envelope" {
		parts = parts[1:]
	}

	return strings.Join(parts, ".")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "uuid":
		return "must be a UUID"
	case "url":
		return "must be a URL"
	default:
		if fe.Param() == "" {
			return "failed " + fe.Tag() + " validation"
		}

		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	}
}
