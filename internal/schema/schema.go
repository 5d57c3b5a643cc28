// Package schema describes the configuration inputs of an action or trigger.
// A Schema is plain data: it marshals to JSON and YAML for the workflow
// editor. Functions that fetch dynamic option lists are kept outside the
// schema and referenced by DynamicSource.ID.
package schema

import (
	"fmt"
	"strings"
)

type InputType string

const (
	InputText          InputType = "text"
	InputNumber        InputType = "number"
	InputSelect        InputType = "select"
	InputSwitch        InputType = "switch"
	InputMarkdown      InputType = "markdown"
	InputDynamicSelect InputType = "dynamic-select"
	InputConfigBuilder InputType = "config-builder"
	InputDateTime      InputType = "date-time"
	InputNestedGroup   InputType = "nested-group"
)

// Severity tells the editor whether a missing value is a hint or a hard stop.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

type Occurrence string

const (
	OccurrenceSingle   Occurrence = "single"
	OccurrenceMultiple Occurrence = "multiple"
)

type Requirement struct {
	MissingMessage string   `json:"missingMessage" yaml:"missing_message"`
	MissingStatus  Severity `json:"missingStatus" yaml:"missing_status"`
}

type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// DynamicSource names the function that produces a field's option list.
type DynamicSource struct {
	ID string `json:"id" yaml:"id"`
}

type SwitchOptions struct {
	Checked        string `json:"checked" yaml:"checked"`
	Unchecked      string `json:"unchecked" yaml:"unchecked"`
	DefaultChecked bool   `json:"defaultChecked" yaml:"default_checked"`
}

type Field struct {
	ID            string         `json:"id" yaml:"id"`
	Label         string         `json:"label" yaml:"label"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Placeholder   string         `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	InputType     InputType      `json:"inputType" yaml:"input_type"`
	Required      *Requirement   `json:"required,omitempty" yaml:"required,omitempty"`
	DefaultValue  any            `json:"defaultValue,omitempty" yaml:"default_value,omitempty"`
	SelectOptions []Option       `json:"selectOptions,omitempty" yaml:"select_options,omitempty"`
	Dynamic       *DynamicSource `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	SwitchOptions *SwitchOptions `json:"switchOptions,omitempty" yaml:"switch_options,omitempty"`
	Markdown      string         `json:"markdown,omitempty" yaml:"markdown,omitempty"`
	Occurrence    Occurrence     `json:"occurrenceType,omitempty" yaml:"occurrence,omitempty"`

	// Fields holds the children of a nested group.
	Fields []Field `json:"inputConfig,omitempty" yaml:"fields,omitempty"`
}

func (f Field) IsRequired() bool { return f.Required != nil }

// IsGroup reports whether the field is a repeated group of child fields.
func (f Field) IsGroup() bool {
	return f.InputType == InputNestedGroup || len(f.Fields) > 0
}

// Schema is the ordered list of fields of one action or trigger.
type Schema []Field

// Field returns the field at path. A path is a field id, or
// "group.child" for a field inside a nested group.
func (s Schema) Field(path string) (Field, bool) {
	head, rest, nested := strings.Cut(path, ".")
	for _, f := range s {
		if f.ID != head {
			continue
		}
		if !nested {
			return f, true
		}
		return Schema(f.Fields).Field(rest)
	}
	return Field{}, false
}

// DynamicFields returns the fields whose options are fetched lazily,
// including those inside nested groups.
func (s Schema) DynamicFields() []Field {
	var out []Field
	for _, f := range s {
		if f.Dynamic != nil {
			out = append(out, f)
		}
		if len(f.Fields) > 0 {
			out = append(out, Schema(f.Fields).DynamicFields()...)
		}
	}
	return out
}

// Validate checks the structural rules of the schema. All problems are
// reported together.
func (s Schema) Validate() error {
	var problems []string
	validateFields(s, "", &problems)
	if len(problems) > 0 {
		return &InvalidSchemaError{Problems: problems}
	}
	return nil
}

func validateFields(fields []Field, prefix string, problems *[]string) {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		path := prefix + f.ID
		if f.ID == "" {
			*problems = append(*problems, fmt.Sprintf("%sfield #%d has no id", prefix, i))
			continue
		}
		if strings.Contains(f.ID, ".") {
			*problems = append(*problems, fmt.Sprintf("field id %q must not contain '.'", path))
		}
		if seen[f.ID] {
			*problems = append(*problems, fmt.Sprintf("duplicate field id %q", path))
		}
		seen[f.ID] = true

		switch {
		case f.InputType == InputDynamicSelect:
			hasStatic := len(f.SelectOptions) > 0
			hasDynamic := f.Dynamic != nil && f.Dynamic.ID != ""
			if hasStatic == hasDynamic {
				*problems = append(*problems, fmt.Sprintf("dynamic-select %q must have exactly one of static options or a dynamic source", path))
			}
		case f.InputType == InputSelect:
			if len(f.SelectOptions) == 0 {
				*problems = append(*problems, fmt.Sprintf("select %q has no options", path))
			}
		case f.Dynamic != nil:
			*problems = append(*problems, fmt.Sprintf("field %q of type %q cannot have a dynamic source", path, f.InputType))
		}

		if f.Required != nil {
			switch f.Required.MissingStatus {
			case SeverityWarning, SeverityBlocking, "":
			default:
				*problems = append(*problems, fmt.Sprintf("field %q has unknown missing status %q", path, f.Required.MissingStatus))
			}
		}

		if f.InputType == InputNestedGroup && len(f.Fields) == 0 {
			*problems = append(*problems, fmt.Sprintf("nested group %q has no fields", path))
		}
		if len(f.Fields) > 0 {
			validateFields(f.Fields, path+".", problems)
		}
	}
}

// InvalidSchemaError is a programming defect in an integration; the registry
// refuses to start with one.
type InvalidSchemaError struct {
	Problems []string
}

func (e *InvalidSchemaError) Error() string {
	return "invalid schema: " + strings.Join(e.Problems, "; ")
}
