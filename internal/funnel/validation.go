package funnel

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// Validation messages shown next to the offending field.
const (
	MsgResponseRequired      = "response required"
	MsgSelectAtLeastOne      = "select at least one"
	MsgNameRequired          = "name required"
	MsgContactRequired       = "contact required"
	MsgContactMethodRequired = "contact method required"
)

// ValidationErrors maps a field name to a human-readable message.
type ValidationErrors map[string]string

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e[field])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Clone returns a copy of the map, or nil when empty.
func (e ValidationErrors) Clone() ValidationErrors {
	if len(e) == 0 {
		return nil
	}
	copied := make(ValidationErrors, len(e))
	for k, v := range e {
		copied[k] = v
	}
	return copied
}

// AsValidationErrors extracts field errors from err.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, true
	}
	return nil, false
}

type fightNoiseInput struct {
	FightNoise string `json:"fightNoise" validate:"notblank"`
}

type assistanceInput struct {
	Assistance string `json:"assistance" validate:"notblank"`
}

type commitmentInput struct {
	Contribution []string `json:"contribution" validate:"min=1"`
}

type contactInput struct {
	Name     string `json:"name" validate:"notblank"`
	Email    string `json:"email" validate:"notblank"`
	Telegram string `json:"telegram" validate:"notblank"`
}

var messages = map[string]string{
	FieldFightNoise:   MsgResponseRequired,
	FieldAssistance:   MsgResponseRequired,
	FieldContribution: MsgSelectAtLeastOne,
	FieldName:         MsgNameRequired,
	FieldEmail:        MsgContactRequired,
	FieldTelegram:     MsgContactMethodRequired,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate checks the fields required to leave stage. Stages without required input always pass.
func Validate(stage Stage, form FormState) ValidationErrors {
	var input any
	switch stage {
	case StageCognition1:
		input = fightNoiseInput{FightNoise: form.FightNoise}
	case StageCognition2:
		input = assistanceInput{Assistance: form.Assistance}
	case StageCommitment:
		input = commitmentInput{Contribution: form.Contribution}
	case StageContact:
		input = contactInput{Name: form.Name, Email: form.Email, Telegram: form.Telegram}
	default:
		return nil
	}

	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{"form": err.Error()}
	}

	result := make(ValidationErrors, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		msg, ok := messages[field]
		if !ok {
			msg = fe.Error()
		}
		result[field] = msg
	}
	return result
}
