package ast

import "encoding/json"

// Marshal renders a Workflow to its wire JSON shape. Field order follows
// struct declaration order (nodeTypes, instances, ... in declaration
// order per §6); schema-default fields are omitted via `omitempty`.
func Marshal(w *Workflow) ([]byte, error) {
	return json.Marshal(w)
}

// MarshalIndent is Marshal with two-space indentation, for CLI output.
func MarshalIndent(w *Workflow) ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}

// Unmarshal parses the wire JSON shape back into a Workflow.
func Unmarshal(data []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
