package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DraftProduct holds the editable fields of one product form.
type DraftProduct struct {
	Title       string   `json:"title" form:"title" validate:"required"`
	Description string   `json:"description" form:"description"`
	Price       *float64 `json:"price" form:"price" validate:"required,gte=0"`
	Contacts    []string `json:"contacts" form:"contacts"`
}

// Validate checks the draft's fields. imageCount is the number of images the
// product would end up with.
func (d DraftProduct) Validate(imageCount int) error {
	fields := map[string]string{}

	d.Title = strings.TrimSpace(d.Title)
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate draft: %w", err)
		}
		for _, fe := range verrs {
			fields[fe.Field()] = message(fe)
		}
	}
	if imageCount < 1 {
		fields["images"] = "at least one image is required"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// CleanContacts trims every contact and drops the blank ones, keeping order.
func CleanContacts(contacts []string) []string {
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (d DraftProduct) clone() DraftProduct {
	if d.Price != nil {
		p := *d.Price
		d.Price = &p
	}
	d.Contacts = append([]string(nil), d.Contacts...)
	return d
}
