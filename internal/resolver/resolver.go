// Package resolver materializes a node's configuration from raw submitted or
// stored values against its schema.
package resolver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/flowpilot/flowpilot/internal/schema"
)

// Values is a resolved configuration. Every non-display field of the schema
// is present as a key; optional fields without a value hold nil.
type Values map[string]any

// Context identifies who the configuration is being resolved for.
type Context struct {
	WorkspaceID  string
	ConnectionID string
	NodeID       string
}

// Resolve applies, per field and in schema order: the raw value if present
// and not an empty string, else the default if present and not an empty
// string, else a MissingRequiredFieldError when the field is required, else
// an explicit nil. Number fields are then coerced to float64 and switch
// fields to bool. Resolution stops at the first failing field.
func Resolve(s schema.Schema, raw map[string]any, rctx Context) (Values, error) {
	out, err := resolveFields(s, raw, "")
	if err != nil {
		slog.Debug("config resolution failed",
			"workspace_id", rctx.WorkspaceID,
			"node_id", rctx.NodeID,
			"error", err)
		return nil, err
	}
	return out, nil
}

func resolveFields(fields []schema.Field, raw map[string]any, prefix string) (Values, error) {
	out := make(Values, len(fields))
	for _, f := range fields {
		if f.InputType == schema.InputMarkdown {
			continue
		}
		path := prefix + f.ID
		v, err := resolveField(f, raw[f.ID], path)
		if err != nil {
			return nil, err
		}
		out[f.ID] = v
	}
	return out, nil
}

func resolveField(f schema.Field, rawValue any, path string) (any, error) {
	var v any
	switch {
	case present(rawValue):
		v = rawValue
	case present(f.DefaultValue):
		v = f.DefaultValue
	case f.Required != nil:
		return nil, &MissingRequiredFieldError{
			FieldID:  f.ID,
			Path:     path,
			Message:  f.Required.MissingMessage,
			Severity: severityOf(f.Required),
		}
	default:
		return nil, nil
	}

	if f.IsGroup() {
		return resolveGroup(f, v, path)
	}
	return coerce(f, v, path)
}

// present treats nil and "" as absent. A cleared input in the editor is
// submitted as an empty string.
func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

func severityOf(r *schema.Requirement) schema.Severity {
	if r.MissingStatus == "" {
		return schema.SeverityWarning
	}
	return r.MissingStatus
}

func resolveGroup(f schema.Field, v any, path string) (any, error) {
	if f.Occurrence != schema.OccurrenceMultiple {
		obj, ok := asObject(v)
		if !ok {
			return nil, &TypeCoercionError{FieldID: f.ID, Path: path, Value: v, Want: "object"}
		}
		return resolveFields(f.Fields, obj, path+".")
	}

	items, ok := asList(v)
	if !ok {
		return nil, &TypeCoercionError{FieldID: f.ID, Path: path, Value: v, Want: "list of objects"}
	}
	out := make([]Values, 0, len(items))
	for i, item := range items {
		obj, ok := asObject(item)
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if !ok {
			return nil, &TypeCoercionError{FieldID: f.ID, Path: itemPath, Value: item, Want: "object"}
		}
		resolved, err := resolveFields(f.Fields, obj, itemPath+".")
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Values:
		return t, true
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return m, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []Values:
		out := make([]any, len(t))
		for i := range t {
			out[i] = map[string]any(t[i])
		}
		return out, true
	}
	return nil, false
}

func coerce(f schema.Field, v any, path string) (any, error) {
	switch f.InputType {
	case schema.InputNumber:
		n, ok := toNumber(v)
		if !ok {
			return nil, &TypeCoercionError{FieldID: f.ID, Path: path, Value: v, Want: "number"}
		}
		return n, nil
	case schema.InputSwitch:
		b, ok := toBool(v, f.SwitchOptions)
		if !ok {
			return nil, &TypeCoercionError{FieldID: f.ID, Path: path, Value: v, Want: "boolean"}
		}
		return b, nil
	}
	return v, nil
}

func toNumber(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int32:
		n = float64(t)
	case int64:
		n = float64(t)
	case uint:
		n = float64(t)
	case uint64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func toBool(v any, opts *schema.SwitchOptions) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		if opts != nil {
			if t == opts.Checked {
				return true, true
			}
			if t == opts.Unchecked {
				return false, true
			}
		}
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}

// Decode copies resolved values into an action's typed configuration struct
// using its json tags. Numeric strings and similar loose inputs are accepted.
func Decode(values Values, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(values)); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}
