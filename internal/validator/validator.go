package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/stemsi/exam-runner/internal/model"
)

// TagTaskKey validates a flattened task key such as "question_3" or
// "algorithm_two-sum".
const TagTaskKey = "taskkey"

var (
	trans     ut.Translator
	setupOnce sync.Once

	taskKeyPattern = regexp.MustCompile(
		`^(` + string(model.TaskKindQuestion) + `_[0-9]+|` + string(model.TaskKindAlgorithm) + `_\S+)$`,
	)
)

// Setup registers JSON field naming, the exam rules, and English messages on
// Gin's binding engine. Safe to call more than once.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation(TagTaskKey, func(fl govalidator.FieldLevel) bool {
			return ValidTaskKey(fl.Field().String())
		})

		enLocale := en.New()
		trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		_ = v.RegisterTranslation(TagTaskKey, trans,
			func(t ut.Translator) error {
				return t.Add(TagTaskKey, "{0} must name a question or algorithm task", true)
			},
			func(t ut.Translator, fe govalidator.FieldError) string {
				msg, _ := t.T(TagTaskKey, fe.Field())
				return msg
			},
		)
	})
}

// ValidTaskKey reports whether key has the shape of a task key.
func ValidTaskKey(key string) bool {
	return taskKeyPattern.MatchString(key)
}

// TranslateErrors maps a binding or validation error to field messages keyed
// by JSON name. Anything else lands under "detail".
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

	fields["detail"] = err.Error()
	return fields
}

// Struct validates an already-decoded value, e.g. a WebSocket payload, with
// the same rules and messages as request bodies.
func Struct(v interface{}) map[string]string {
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
