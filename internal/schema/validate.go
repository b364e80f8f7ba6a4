// ABOUTME: Schema-driven validation and normalization of metadata change sets.
// ABOUTME: Every field is checked independently; errors accumulate and reject the whole set.

package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ValidationError carries the full batch of field errors for a rejected
// change set. No partial change set is ever applied.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation errors occurred:")
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err)
	}
	return b.String()
}

// Result is the outcome of validating a change set.
type Result struct {
	// Normalized holds the cleaned change set, valid only when Errors is empty.
	Normalized map[string]any

	// Unvalidated names fields whose datatype the validator does not know.
	// Their values were passed through untouched.
	Unvalidated []string

	Errors []string
}

// Err returns a ValidationError when the change set was rejected, nil otherwise.
func (r Result) Err() error {
	if len(r.Errors) > 0 {
		return &ValidationError{Errors: r.Errors}
	}
	return nil
}

// Validate normalizes a proposed change set against the library schema.
// All fields are processed and all errors collected before returning.
func Validate(changes map[string]any, s Schema) Result {
	res := Result{Normalized: make(map[string]any, len(changes))}

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := changes[field]

		fs, ok := s[field]
		if !ok {
			res.fail("field %q does not exist in the library schema", field)
			continue
		}

		switch fs.Datatype {
		case TypeText:
			res.validateText(field, value, fs)
		case TypeSeries:
			res.validateSeries(field, value, changes)
		case TypeRating:
			res.validateRating(field, value)
		case TypeDatetime:
			res.validateDatetime(field, value)
		case TypeInt:
			if n, ok := toInt(value); ok {
				res.Normalized[field] = n
			} else {
				res.fail("field %q (int): expected integer, got %v", field, value)
			}
		case TypeFloat:
			if f, ok := toFloat(value); ok {
				res.Normalized[field] = f
			} else {
				res.fail("field %q (float): expected number, got %v", field, value)
			}
		case TypeComposite:
			res.fail("field %q is a composite field and cannot be written to", field)
		case TypeEnumeration:
			res.validateEnumeration(field, value, fs)
		case TypeComments:
			res.Normalized[field] = stringify(value)
		case TypeBool:
			res.validateBool(field, value)
		default:
			res.Normalized[field] = value
			res.Unvalidated = append(res.Unvalidated, field)
		}
	}

	return res
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// validateText handles plain, multi-valued, and the dictionary-valued
// identifiers field.
func (r *Result) validateText(field string, value any, fs FieldSchema) {
	if field == "identifiers" {
		// Marked as text in the schema but holds an identifier map.
		if m, ok := value.(map[string]any); ok {
			r.Normalized[field] = m
			return
		}
		r.fail("field %q: expected dictionary of identifiers, got %T", field, value)
		return
	}

	if fs.Separator == "" {
		r.Normalized[field] = stringify(value)
		return
	}

	switch v := value.(type) {
	case string:
		items := make([]string, 0)
		for _, item := range strings.Split(v, fs.Separator) {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		r.Normalized[field] = items
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if trimmed := strings.TrimSpace(stringify(item)); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		r.Normalized[field] = items
	default:
		r.fail("field %q (text with separator): expected string or list, got %T", field, value)
	}
}

func (r *Result) validateSeries(field string, value any, changes map[string]any) {
	name, idx, err := normalizeSeries(stringify(value))
	if err != nil {
		r.fail("field %q (series): %v", field, err)
		return
	}

	r.Normalized[field] = name
	if idx == nil {
		return
	}

	indexField := field + "_index"
	if provided, present := changes[indexField]; present {
		if pf, ok := toFloat(provided); ok && pf != *idx {
			r.fail("field %q: series string %v implies index %v, but %q is also provided with a different value of %v",
				field, value, *idx, indexField, pf)
		}
		// An unparsable sibling index is left to its own field's validation.
		return
	}
	r.Normalized[indexField] = *idx
}

func (r *Result) validateRating(field string, value any) {
	n, ok := toInt(value)
	if !ok {
		r.fail("field %q (rating): expected integer 0-10, got %v", field, value)
		return
	}
	if n < 0 || n > 10 {
		r.fail("field %q (rating): value must be between 0 and 10, got %d", field, n)
		return
	}
	r.Normalized[field] = n
}

func (r *Result) validateDatetime(field string, value any) {
	s, ok := value.(string)
	if !ok {
		r.fail("field %q (datetime): expected string, got %T", field, value)
		return
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		r.fail("field %q (datetime): unable to parse %q as a date/time", field, s)
		return
	}
	r.Normalized[field] = t.Format(time.RFC3339)
}

func (r *Result) validateEnumeration(field string, value any, fs FieldSchema) {
	s, ok := value.(string)
	if !ok {
		r.fail("field %q (enumeration): expected string, got %T", field, value)
		return
	}
	if s == "" {
		r.Normalized[field] = s
		return
	}
	for _, allowed := range fs.AllowedValues {
		if s == allowed {
			r.Normalized[field] = s
			return
		}
	}
	r.fail("field %q (enumeration): value %q not in allowed values [%s]; empty string is also allowed",
		field, s, strings.Join(fs.AllowedValues, ", "))
}

func (r *Result) validateBool(field string, value any) {
	switch v := value.(type) {
	case bool:
		r.Normalized[field] = v
	case nil:
		r.Normalized[field] = nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			r.Normalized[field] = true
		case "false", "no", "0":
			r.Normalized[field] = false
		case "none", "null", "":
			r.Normalized[field] = nil
		default:
			r.fail("field %q (bool): unable to convert string %q to boolean; use 'true', 'false', or 'none'", field, v)
		}
	default:
		r.fail("field %q (bool): expected boolean, null, or string, got %T", field, value)
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

// toInt coerces JSON scalar values to an int the way the backend expects:
// whole numbers pass, fractional floats truncate, numeric strings parse.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
