package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"catalogsync/internal/logger"
	"catalogsync/internal/models"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one rejected field, named as it appears in JSON.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries every field that failed validation.
type Error struct {
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type Validator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func New(logger *logger.Logger) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	return &Validator{validate: v, logger: logger}
}

// UseJSONNames makes v report fields by their JSON names. The API server
// applies it to gin's binding validator.
func UseJSONNames(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonName)
}

// productRules is the validated view of a product.
type productRules struct {
	Title     string   `json:"title" validate:"required,max=255"`
	Inventory int      `json:"inventory" validate:"gte=0"`
	Weight    *float64 `json:"weight" validate:"omitempty,gte=0"`
	Status    string   `json:"status" validate:"omitempty,oneof=active inactive draft"`
	Tags      []string `json:"tags" validate:"dive,required,max=255"`
	Images    []string `json:"images" validate:"dive,required,url"`
}

// ValidateProduct checks a product before it is stored or pushed to a
// platform. The returned error, if any, is an *Error.
func (v *Validator) ValidateProduct(p *models.Product) error {
	rules := productRules{
		Title:     strings.TrimSpace(p.Title),
		Inventory: p.Inventory,
		Weight:    p.Weight,
		Status:    string(p.Status),
		Tags:      p.Tags,
		Images:    p.Images,
	}

	var fields []FieldError
	if err := v.validate.Struct(rules); err != nil {
		fe, ok := Fields(err)
		if !ok {
			return err
		}
		fields = fe.Fields
	}
	if p.Price.IsNegative() {
		fields = append(fields, FieldError{Field: "price", Message: "must be greater than or equal to 0"})
	}

	if len(fields) > 0 {
		v.logger.Debug("Product %s failed validation: %v", p.ID, fields)
		return &Error{Fields: fields}
	}
	return nil
}

// Struct validates any request body carrying validate tags.
func (v *Validator) Struct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		if fe, ok := Fields(err); ok {
			return fe
		}
		return err
	}
	return nil
}

// Fields converts validator errors, including those produced by gin binding,
// into an *Error. It reports false for any other error.
func Fields(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}

	out := &Error{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe), Message: message(fe)})
	}
	return out, true
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid id"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
