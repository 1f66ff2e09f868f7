// File: api/schemas/decisions.go
package schemas

import "fmt"

// DecisionAction is the tag of the Decision tagged union. The wire values
// match the policy boundary JSON schema.
type DecisionAction string

const (
	ActionClick    DecisionAction = "click"
	ActionFill     DecisionAction = "fill"
	ActionPause    DecisionAction = "pause_for_manual"
	ActionSubmit   DecisionAction = "submit"
	ActionError    DecisionAction = "error"
	ActionComplete DecisionAction = "task_complete"
)

// FieldType describes how a fill target should be driven.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldFile     FieldType = "file"
)

// FieldInput is one (ref, value) pair inside a fill decision.
type FieldInput struct {
	Ref   string    `json:"ref"`
	Value string    `json:"value"`
	Type  FieldType `json:"type,omitempty"`
}

// Decision is the structured instruction returned by a Policy. It is a tagged
// union over DecisionAction; Validate enforces the per-variant requirements
// before the orchestrator will apply it.
type Decision struct {
	Action       DecisionAction `json:"action"`
	Reasoning    string         `json:"reasoning"`
	Ref          string         `json:"ref,omitempty"`
	Fields       []FieldInput   `json:"fields,omitempty"`
	PauseReason  string         `json:"pause_reason,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Validate checks the structural requirements of the tagged union. It does
// NOT check ref membership against a snapshot; that is the orchestrator's
// job, since only it knows which triaged snapshot the policy last saw.
func (d Decision) Validate() error {
	switch d.Action {
	case ActionClick, ActionSubmit:
		if d.Ref == "" {
			return fmt.Errorf("%s decision requires a ref", d.Action)
		}
	case ActionFill:
		if len(d.Fields) == 0 {
			return fmt.Errorf("fill decision requires at least one field")
		}
		for i, f := range d.Fields {
			if f.Ref == "" {
				return fmt.Errorf("fill field %d missing ref", i)
			}
			switch f.Type {
			case "", FieldText, FieldSelect, FieldCheckbox, FieldFile:
			default:
				return fmt.Errorf("fill field %d has unknown type %q", i, f.Type)
			}
		}
	case ActionPause:
		if d.PauseReason == "" {
			return fmt.Errorf("pause_for_manual decision requires a pause_reason")
		}
	case ActionError:
		if d.ErrorMessage == "" {
			return fmt.Errorf("error decision requires an error_message")
		}
	case ActionComplete:
		// No payload.
	case "":
		return fmt.Errorf("decision missing action")
	default:
		return fmt.Errorf("unknown decision action %q", d.Action)
	}
	return nil
}

// Refs returns every element reference the decision targets.
func (d Decision) Refs() []string {
	var refs []string
	if d.Ref != "" {
		refs = append(refs, d.Ref)
	}
	for _, f := range d.Fields {
		if f.Ref != "" {
			refs = append(refs, f.Ref)
		}
	}
	return refs
}

// Mutating reports whether applying the decision changes page state and
// therefore invalidates outstanding refs.
func (d Decision) Mutating() bool {
	switch d.Action {
	case ActionClick, ActionFill, ActionSubmit:
		return true
	default:
		return false
	}
}
