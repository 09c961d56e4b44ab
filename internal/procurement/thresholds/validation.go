package thresholds

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/retifica-erp/retifica/internal/shared"
)

// Input is the payload for creating or updating a threshold.
type Input struct {
	OrgID     int64               `json:"org_id" validate:"required,gt=0"`
	MinValue  decimal.Decimal     `json:"min_value" validate:"-"`
	MaxValue  decimal.NullDecimal `json:"max_value" validate:"-"`
	Type      ApprovalType        `json:"approval_type" validate:"required,oneof=auto single multiple chain"`
	Approvers []string            `json:"approvers" validate:"unique,dive,required,max=64"`
	Label     string              `json:"label" validate:"max=120"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func normalize(input Input) Input {
	out := input
	out.Label = strings.TrimSpace(input.Label)
	out.Approvers = make([]string, 0, len(input.Approvers))
	for _, a := range input.Approvers {
		out.Approvers = append(out.Approvers, strings.TrimSpace(a))
	}
	return out
}

// validate applies structural rules through the validator and the range rules
// on the decimal bounds. It never touches the store.
func (s *Service) validate(input Input) (Threshold, error) {
	input = normalize(input)
	verr := &shared.ValidationError{}

	if err := s.validator.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Threshold{}, err
		}
		for _, fe := range fieldErrs {
			verr.Add(fieldName(fe), ruleMessage(fe))
		}
	}
	if input.MinValue.IsNegative() {
		verr.Add("min_value", "must be zero or greater")
	}
	if input.MaxValue.Valid && !input.MaxValue.Decimal.GreaterThan(input.MinValue) {
		verr.Add("max_value", "must be greater than min_value")
	}
	if input.Type.Valid() && input.Type != TypeAuto && len(input.Approvers) == 0 {
		verr.Add("approvers", fmt.Sprintf("at least one approver required for %s approval", input.Type))
	}
	if !verr.Empty() {
		return Threshold{}, verr
	}

	return Threshold{
		OrgID:     input.OrgID,
		Range:     Range{Min: input.MinValue, Max: input.MaxValue},
		Type:      input.Type,
		Approvers: input.Approvers,
		Label:     input.Label,
		IsActive:  true,
	}, nil
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "unique":
		return "must not contain duplicates"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " rule"
	}
}
