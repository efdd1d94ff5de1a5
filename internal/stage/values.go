package stage

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FieldType is the declared type of a response field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldFloat
	FieldInt
	FieldBool
)

func (t FieldType) String() string {
	switch t {
	case FieldFloat:
		return "number"
	case FieldInt:
		return "integer"
	case FieldBool:
		return "boolean"
	default:
		return "string"
	}
}

// Field describes one response field and the value used when it is absent.
type Field struct {
	Name    string
	Type    FieldType
	Default any
}

// Values holds the typed response fields of one stage call, defaults included.
type Values map[string]any

// String returns the named string value, or "" if absent.
func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Float returns the named float value, or 0 if absent.
func (v Values) Float(name string) float64 {
	f, _ := v[name].(float64)
	return f
}

// Int returns the named integer value, or 0 if absent.
func (v Values) Int(name string) int {
	i, _ := v[name].(int)
	return i
}

// Bool returns the named boolean value, or false if absent.
func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

var numberPattern = regexp.MustCompile(`-?\d[\d\s\x{00A0}\x{202F}.,']*`)

// ParseNumber accepts the number formats stages have been seen to emit:
// "250000", "250 000 €", "250,000.50", "250.000,50", "3,5".
func ParseNumber(raw string) (float64, error) {
	m := numberPattern.FindString(raw)
	if m == "" {
		return 0, fmt.Errorf("no number in %q", raw)
	}

	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '\t', '\n', '\r':
			return -1
		}
		return r
	}, m)
	s = strings.TrimRight(s, ".,")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The separator that comes last is the decimal mark.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", raw, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parse number %q: not finite", raw)
	}
	return f, nil
}

func coerce(raw string, t FieldType) (any, error) {
	switch t {
	case FieldFloat:
		return ParseNumber(raw)
	case FieldInt:
		f, err := ParseNumber(raw)
		if err != nil {
			return nil, err
		}
		return int(math.Round(f)), nil
	case FieldBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, fmt.Errorf("parse bool %q", raw)
	default:
		return raw, nil
	}
}

// schemaValue converts a typed value into the form the schema validator expects
// from a JSON decoder.
func schemaValue(v any) any {
	switch t := v.(type) {
	case float64:
		return json.Number(strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		return json.Number(strconv.Itoa(t))
	default:
		return v
	}
}
