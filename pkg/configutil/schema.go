package configutil

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the value type a provider setting must decode to.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindDuration
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindDuration:
		return "duration"
	case KindBool:
		return "bool"
	default:
		return "any"
	}
}

// Field declares one provider setting.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema lists the settings a provider accepts.
type Schema struct {
	Fields       []Field
	AllowUnknown bool
}

// ValidateSettings checks a provider settings map before it is decoded:
// required keys are present and non-blank, unknown keys are rejected and
// each value parses as its declared kind. Keys match case, underscore and
// hyphen insensitively, as in DecodeSettings.
func ValidateSettings(input map[string]any, schema Schema) error {
	fields := make(map[string]Field, len(schema.Fields))
	for _, f := range schema.Fields {
		fields[normalizeKey(f.Name)] = f
	}

	var missing, unknown, invalid []string
	seen := make(map[string]bool, len(input))
	for k, v := range input {
		nk := normalizeKey(k)
		seen[nk] = true
		f, ok := fields[nk]
		if !ok {
			if !schema.AllowUnknown {
				unknown = append(unknown, k)
			}
			continue
		}
		if blank(v) {
			if f.Required {
				missing = append(missing, f.Name)
			}
			continue
		}
		if err := checkKind(v, f.Kind); err != nil {
			invalid = append(invalid, fmt.Sprintf("%s (%v)", k, err))
		}
	}
	for nk, f := range fields {
		if f.Required && !seen[nk] {
			missing = append(missing, f.Name)
		}
	}

	var parts []string
	for _, group := range []struct {
		label string
		keys  []string
	}{{"missing", missing}, {"unknown", unknown}, {"invalid", invalid}} {
		if len(group.keys) == 0 {
			continue
		}
		sort.Strings(group.keys)
		parts = append(parts, group.label+": "+strings.Join(group.keys, ", "))
	}
	if len(parts) == 0 {
		return nil
	}
	return errors.New(strings.Join(parts, "; "))
}

func checkKind(v any, kind Kind) error {
	switch kind {
	case KindString:
		switch v.(type) {
		case string, int, int64, float64, bool:
			return nil
		}
	case KindInt:
		switch n := v.(type) {
		case int, int64, uint, uint64:
			return nil
		case float64:
			if n == math.Trunc(n) {
				return nil
			}
		case string:
			if _, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return nil
			}
		}
	case KindDuration:
		switch d := v.(type) {
		case int, int64, time.Duration:
			return nil
		case string:
			parsed, err := time.ParseDuration(strings.TrimSpace(d))
			if err != nil {
				return fmt.Errorf("want duration like 160ms")
			}
			if parsed < 0 {
				return fmt.Errorf("duration must not be negative")
			}
			return nil
		}
	case KindBool:
		switch b := v.(type) {
		case bool:
			return nil
		case string:
			if _, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return nil
			}
		}
	default:
		return nil
	}
	return fmt.Errorf("want %s, got %T", kind, v)
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
