// Package inputval validates decoded request bodies against struct tags.
package inputval

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their JSON names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return v
}

// Result collects field errors keyed by JSON field name.
type Result struct {
	Errors map[string]string
}

// HasErrors reports whether validation failed.
func (r *Result) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// First returns one message, stable across runs, for single-line responses.
func (r *Result) First() string {
	if !r.HasErrors() {
		return ""
	}
	keys := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return r.Errors[keys[0]]
}

// Validate checks s (a struct or pointer to struct) against its validate tags.
func Validate(s any) *Result {
	res := &Result{Errors: map[string]string{}}
	err := instance().Struct(s)
	if err == nil {
		return res
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		res.Errors["_"] = err.Error()
		return res
	}
	for _, fe := range verrs {
		field := fe.Field()
		if ns := fe.Namespace(); strings.Contains(ns, ".") {
			// Drop the struct name; keep nested paths like add_to_groups[2].
			field = ns[strings.Index(ns, ".")+1:]
		}
		if _, seen := res.Errors[field]; !seen {
			res.Errors[field] = message(field, fe)
		}
	}
	return res
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be before %s", field, jsonName(fe))
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// jsonName renders the compared field of a cross-field rule in snake case to
// match the JSON names of the other fields.
func jsonName(fe validator.FieldError) string {
	var b strings.Builder
	for i, r := range fe.Param() {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
