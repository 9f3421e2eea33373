package model

// StageDefinition describes one step in a request kind's approval chain: the
// stage name and the role/department gate for acting on it. Exactly one of
// Department / RequesterDepartment may constrain the actor:
//
//   - Department set: the actor must belong to that fixed department
//     (e.g. technical review stages always sit in IT).
//   - RequesterDepartment true: the actor must belong to the request's
//     originating department.
//   - Neither: any department is acceptable.
type StageDefinition struct {
	Name                string   `yaml:"name" json:"name"`
	Roles               []string `yaml:"roles" json:"roles"`
	Department          string   `yaml:"department,omitempty" json:"department,omitempty"`
	RequesterDepartment bool     `yaml:"requester_department,omitempty" json:"requester_department,omitempty"`
}

// AllowsRole reports whether the given role may act on this stage.
func (s *StageDefinition) AllowsRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AllowsActor reports whether the actor's role and department satisfy this
// stage for a request originating in requesterDepartment.
func (s *StageDefinition) AllowsActor(actor *Actor, requesterDepartment string) bool {
	if !s.AllowsRole(actor.Role) {
		return false
	}
	if s.Department != "" && actor.Department != s.Department {
		return false
	}
	if s.RequesterDepartment && actor.Department != requesterDepartment {
		return false
	}
	return true
}

// ChainDefinition is the ordered approval chain for one request kind. The
// chain is immutable at runtime: stage order and authorization rules live
// here and nowhere else.
type ChainDefinition struct {
	Kind     string            `yaml:"kind" json:"kind"`
	Terminal string            `yaml:"terminal" json:"terminal"`
	Stages   []StageDefinition `yaml:"stages" json:"stages"`
}

// InitialStage returns the name of the first stage in the chain, or empty if
// the chain has no stages.
func (c *ChainDefinition) InitialStage() string {
	if len(c.Stages) == 0 {
		return ""
	}
	return c.Stages[0].Name
}
