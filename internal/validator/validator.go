package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Abbreviated or full commit hash, HEAD, or a tag / branch name
var revisionPattern = regexp.MustCompile(`^(HEAD|[0-9a-f]{4,40}|[A-Za-z0-9][A-Za-z0-9._/-]{0,127})$`)

// Echo compatible validator with proper tag semantics
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	return cv.validator.Struct(i)
}

func ValidateRevision(fl validator.FieldLevel) bool {
	rev := fl.Field().String()
	return revisionPattern.MatchString(rev) && !strings.Contains(rev, "..")
}

func Create() CustomValidator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		paramName := strings.SplitN(field.Tag.Get("param"), ",", 2)[0]
		if paramName != "" {
			return paramName
		}

		jsonName := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if jsonName == "-" {
			return ""
		}
		if jsonName == "-," {
			return "-"
		}
		return jsonName
	})

	// registration only fails for empty tags or nil functions
	_ = validate.RegisterValidation("revision", ValidateRevision)

	return CustomValidator{validator: validate}
}
