package chain

import (
	"fmt"

	"github.com/veropath/grantflow/model"
)

// VError describes a single validation error in a chain definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks chain definitions structurally before they enter the
// registry. A service must refuse to start on any validation error: a
// malformed chain would strand requests in unreachable stages.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all chain definitions.
func (v *Validator) Validate(chains []model.ChainDefinition) []VError {
	var errs []VError
	seenKinds := make(map[string]bool)

	for i, c := range chains {
		prefix := fmt.Sprintf("chains[%d]", i)
		if c.Kind == "" {
			errs = append(errs, VError{Path: prefix + ".kind", Code: "REQUIRED", Message: "kind is required"})
		} else if seenKinds[c.Kind] {
			errs = append(errs, VError{Path: prefix + ".kind", Code: "DUPLICATE", Message: fmt.Sprintf("kind %q defined more than once", c.Kind)})
		}
		seenKinds[c.Kind] = true

		errs = append(errs, v.validateChain(prefix, c)...)
	}
	return errs
}

func (v *Validator) validateChain(prefix string, c model.ChainDefinition) []VError {
	var errs []VError

	if !model.IsTerminalStatus(c.Terminal) {
		errs = append(errs, VError{
			Path: prefix + ".terminal", Code: "INVALID",
			Message: fmt.Sprintf("terminal %q is not a terminal status token", c.Terminal),
		})
	}
	if c.Terminal == model.StatusRejected {
		errs = append(errs, VError{
			Path: prefix + ".terminal", Code: "INVALID",
			Message: "rejected is reserved for the reject action and cannot end a chain",
		})
	}
	if len(c.Stages) == 0 {
		errs = append(errs, VError{
			Path: prefix + ".stages", Code: "REQUIRED",
			Message: "at least one stage is required",
		})
	}

	seen := make(map[string]bool)
	for j, s := range c.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, j)
		if s.Name == "" {
			errs = append(errs, VError{Path: sp + ".name", Code: "REQUIRED", Message: "stage name is required"})
			continue
		}
		if model.IsTerminalStatus(s.Name) || s.Name == c.Terminal {
			errs = append(errs, VError{
				Path: sp + ".name", Code: "RESERVED",
				Message: fmt.Sprintf("stage name %q collides with a terminal status", s.Name),
			})
		}
		if seen[s.Name] {
			errs = append(errs, VError{
				Path: sp + ".name", Code: "DUPLICATE",
				Message: fmt.Sprintf("stage %q appears more than once", s.Name),
			})
		}
		seen[s.Name] = true

		if len(s.Roles) == 0 {
			errs = append(errs, VError{
				Path: sp + ".roles", Code: "REQUIRED",
				Message: fmt.Sprintf("stage %q names no authorized role", s.Name),
			})
		}
		if s.Department != "" && s.RequesterDepartment {
			errs = append(errs, VError{
				Path: sp + ".department", Code: "CONFLICT",
				Message: fmt.Sprintf("stage %q sets both a fixed department and requester_department", s.Name),
			})
		}
	}

	return errs
}
