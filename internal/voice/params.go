package voice

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ParamType enumerates the validator's value kinds.
type ParamType int

const (
	ParamString ParamType = iota
	ParamInt
	ParamEnum
	ParamTimezone
	ParamDate
)

// ParamSpec declares one query parameter: its type, bounds and
// default. The shared validator consumes these; intents never touch
// raw input.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any
	Min, Max int
	Enum     []string
}

// ValidationError names the offending field so handlers can return a
// structured 400.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Msg)
}

// ValidateParams checks query against specs, filling defaults for
// absent values. Timezone values run through resolvable so platform
// names and aliases pass; only a zone the resolver cannot place fails.
func ValidateParams(specs []ParamSpec, query url.Values, resolvable func(string) bool) (map[string]any, error) {
	out := make(map[string]any, len(specs))
	for _, spec := range specs {
		raw := query.Get(spec.Name)
		if raw == "" {
			if spec.Required {
				return nil, &ValidationError{Field: spec.Name, Msg: "required"}
			}
			out[spec.Name] = spec.Default
			continue
		}
		switch spec.Type {
		case ParamInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, &ValidationError{Field: spec.Name, Msg: "must be an integer"}
			}
			if n < spec.Min || n > spec.Max {
				return nil, &ValidationError{
					Field: spec.Name,
					Msg:   fmt.Sprintf("must be between %d and %d", spec.Min, spec.Max),
				}
			}
			out[spec.Name] = n
		case ParamEnum:
			if !contains(spec.Enum, raw) {
				return nil, &ValidationError{
					Field: spec.Name,
					Msg:   "must be one of " + strings.Join(spec.Enum, ", "),
				}
			}
			out[spec.Name] = raw
		case ParamTimezone:
			if !resolvable(raw) {
				return nil, &ValidationError{Field: spec.Name, Msg: "unknown timezone"}
			}
			out[spec.Name] = raw
		case ParamDate:
			if err := checkDate(raw); err != nil {
				return nil, &ValidationError{Field: spec.Name, Msg: err.Error()}
			}
			out[spec.Name] = raw
		default:
			out[spec.Name] = raw
		}
	}
	return out, nil
}

func checkDate(raw string) error {
	switch raw {
	case "auto", "today", "tomorrow":
		return nil
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return errors.New("must be YYYY-MM-DD, today, tomorrow or auto")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
