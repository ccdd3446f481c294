package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
 * Value coercion.
 *
 * Record attributes arrive from JSON or from database rows, so the same
 * logical value can show up as float64, int64, json.Number, string or
 * time.Time. Each field type has one canonical Go representation that the
 * operators work on:
 *
 *   number  -> float64 (numeric strings accepted, booleans rejected)
 *   string  -> string  (numbers and booleans formatted)
 *   date    -> time.Time (YYYY-MM-DD or RFC 3339 strings, time.Time)
 *   boolean -> bool    (strict, no "true"/1 guessing)
 */

var ErrCoercionFailed = errors.New("type coercion failed")

// DateLayout is the canonical date representation of rule values.
const DateLayout = "2006-01-02"

func coerce(v any, t FieldType) (any, error) {
	switch t {
	case TypeNumber:
		return coerceNumber(v)
	case TypeString:
		return coerceString(v)
	case TypeDate:
		return coerceDate(v)
	case TypeBoolean:
		return coerceBool(v)
	default:
		return nil, ErrCoercionFailed
	}
}

func coerceNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, ErrCoercionFailed
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, ErrCoercionFailed
		}
		return f, nil
	default:
		return 0, ErrCoercionFailed
	}
}

func coerceString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case bool:
		return strconv.FormatBool(s), nil
	case json.Number:
		return s.String(), nil
	case nil:
		return "", ErrCoercionFailed
	default:
		return fmt.Sprintf("%v", s), nil
	}
}

func coerceDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), nil
	case string:
		return ParseDate(d)
	default:
		return time.Time{}, ErrCoercionFailed
	}
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, ErrCoercionFailed
}

func coerceBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, ErrCoercionFailed
	}
	return b, nil
}

// dateRange coerces the value of a between rule: exactly two dates. Both
// ends are inclusive; a date-only upper bound covers that whole day.
func dateRange(v any) (from, to time.Time, err error) {
	var bounds []string
	switch x := v.(type) {
	case []string:
		bounds = x
	case []any:
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return from, to, ErrCoercionFailed
			}
			bounds = append(bounds, s)
		}
	default:
		return from, to, ErrCoercionFailed
	}
	if len(bounds) != 2 {
		return from, to, ErrCoercionFailed
	}
	if from, err = ParseDate(bounds[0]); err != nil {
		return from, to, err
	}
	if to, err = ParseDate(bounds[1]); err != nil {
		return from, to, err
	}
	if _, perr := time.Parse(DateLayout, strings.TrimSpace(bounds[1])); perr == nil {
		to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return from, to, nil
}
