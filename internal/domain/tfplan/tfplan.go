// Package tfplan models the parts of a Terraform JSON plan the analyzer reads.
package tfplan

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
)

// Change is the before/after diff of one resource.
type Change struct {
	Actions []string        `json:"actions"`
	Before  json.RawMessage `json:"before,omitempty"`
	After   json.RawMessage `json:"after,omitempty"`
}

// ResourceChange is one entry of the plan's resource_changes list.
type ResourceChange struct {
	Address      string `json:"address"`
	Mode         string `json:"mode,omitempty"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	ProviderName string `json:"provider_name,omitempty"`
	Change       Change `json:"change"`
}

// Plan is a parsed plan document. RawResourceChanges keeps the exact bytes sent
// to the model so prompts reflect the plan unmodified.
type Plan struct {
	FormatVersion      string
	TerraformVersion   string
	ResourceChanges    []ResourceChange
	RawResourceChanges json.RawMessage
}

type wirePlan struct {
	FormatVersion    string          `json:"format_version"`
	TerraformVersion string          `json:"terraform_version"`
	ResourceChanges  json.RawMessage `json:"resource_changes"`
}

// Parse decodes a plan JSON document.
func Parse(data []byte) (Plan, error) {
	var w wirePlan
	if err := json.Unmarshal(data, &w); err != nil {
		return Plan{}, fmt.Errorf("%w: plan json: %v", domain.ErrMalformedInput, err)
	}
	p := Plan{
		FormatVersion:      w.FormatVersion,
		TerraformVersion:   w.TerraformVersion,
		RawResourceChanges: w.ResourceChanges,
	}
	if len(w.ResourceChanges) == 0 || string(w.ResourceChanges) == "null" {
		p.RawResourceChanges = json.RawMessage("[]")
		return p, nil
	}
	if err := json.Unmarshal(w.ResourceChanges, &p.ResourceChanges); err != nil {
		return Plan{}, fmt.Errorf("%w: resource_changes: %v", domain.ErrMalformedInput, err)
	}
	return p, nil
}

// Counts tallies resource changes by action ("create", "update", "delete", ...).
func (p Plan) Counts() map[string]int {
	out := make(map[string]int)
	for _, rc := range p.ResourceChanges {
		for _, a := range rc.Change.Actions {
			out[a]++
		}
	}
	return out
}
