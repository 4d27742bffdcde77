package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-practice/internal/model"
)

// trans is the singleton English translator for validation errors.
var trans ut.Translator

// customTags are the practice enums checked by tag, with their messages.
var customTags = []struct {
	tag     string
	fn      govalidator.Func
	message string
}{
	{"practice_mode", validPracticeMode, "{0} must be one of normal, section, revision, mock, incorrect, review_later"},
	{"mock_strategy", validMockStrategy, "{0} must be equal or random"},
	{"mock_status", validMockStatus, "{0} must be one of viewed, marked_for_review, answered, answered_and_marked_for_review"},
}

// Setup registers the validator with English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		register(v)
	}
}

func register(v *govalidator.Validate) {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register English translations.
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	en_translations.RegisterDefaultTranslations(v, trans)

	for _, ct := range customTags {
		_ = v.RegisterValidation(ct.tag, ct.fn)
		message := ct.message
		tag := ct.tag
		_ = v.RegisterTranslation(tag, trans,
			func(t ut.Translator) error {
				return t.Add(tag, message, true)
			},
			func(t ut.Translator, fe govalidator.FieldError) string {
				msg, _ := t.T(tag, fe.Field())
				return msg
			},
		)
	}
}

func validPracticeMode(fl govalidator.FieldLevel) bool {
	return model.PracticeMode(fl.Field().String()).Valid()
}

func validMockStrategy(fl govalidator.FieldLevel) bool {
	switch model.MockStrategy(fl.Field().String()) {
	case model.StrategyEqual, model.StrategyRandom:
		return true
	}
	return false
}

// validMockStatus accepts the states a client may set. not_viewed is
// server-assigned only.
func validMockStatus(fl govalidator.FieldLevel) bool {
	switch model.MockStatus(fl.Field().String()) {
	case model.MockViewed, model.MockMarkedForReview, model.MockAnswered, model.MockAnsweredAndMarkedForReview:
		return true
	}
	return false
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if trans != nil {
				fields[fe.Field()] = fe.Translate(trans)
			} else {
				fields[fe.Field()] = fe.Error()
			}
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
