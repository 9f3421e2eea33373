package chain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veropath/grantflow/model"
)

// chainFile is the YAML document shape for a chain definition file.
type chainFile struct {
	Chains []model.ChainDefinition `yaml:"chains"`
}

// Loader parses YAML chain definition files.
type Loader struct{}

// NewLoader creates a new chain Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile loads and parses a single YAML chain file.
func (l *Loader) LoadFile(path string) ([]model.ChainDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc chainFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return doc.Chains, nil
}

// Load returns the chain definitions to run with: the contents of path when
// set, otherwise the compiled-in defaults.
func (l *Loader) Load(path string) ([]model.ChainDefinition, error) {
	if path == "" {
		return DefaultChains(), nil
	}
	return l.LoadFile(path)
}

// DefaultChains returns the built-in approval chains for the three request
// kinds. Technical review stages are fixed to the IT department regardless
// of where the request originated; managerial stages follow the requester's
// own department.
func DefaultChains() []model.ChainDefinition {
	return []model.ChainDefinition{
		{
			Kind:     model.KindSystemAccess,
			Terminal: model.StatusGranted,
			Stages: []model.StageDefinition{
				{Name: "request_pending", Roles: []string{"line_manager"}, RequesterDepartment: true},
				{Name: "hod_pending", Roles: []string{"hod"}, RequesterDepartment: true},
				{Name: "it_manager_pending", Roles: []string{"it_manager"}, Department: "IT"},
				{Name: "it_support_review", Roles: []string{"it_support"}, Department: "IT"},
			},
		},
		{
			Kind:     model.KindRequisition,
			Terminal: model.StatusApproved,
			Stages: []model.StageDefinition{
				{Name: "line_manager_pending", Roles: []string{"line_manager"}, RequesterDepartment: true},
				{Name: "hod_pending", Roles: []string{"hod"}, RequesterDepartment: true},
				{Name: "procurement_review", Roles: []string{"procurement_officer"}, Department: "Procurement"},
			},
		},
		{
			Kind:     model.KindTicket,
			Terminal: model.StatusClosed,
			Stages: []model.StageDefinition{
				{Name: "triage_pending", Roles: []string{"it_support", "it_manager"}, Department: "IT"},
				{Name: "resolution_review", Roles: []string{"it_manager"}, Department: "IT"},
			},
		},
	}
}
