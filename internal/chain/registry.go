// Package chain loads YAML approval-chain definitions, validates them, and
// provides a fast-lookup registry with atomic pointer swap. The chain order
// and authorization rules for every request kind live here and nowhere else.
package chain

import (
	"sort"
	"sync/atomic"

	"github.com/veropath/grantflow/model"
)

// snapshot is an immutable collection of chain definitions indexed by kind.
type snapshot struct {
	chains map[string]model.ChainDefinition
}

// Registry is a read-optimized, thread-safe store of approval chains.
// It uses atomic pointer swap for lock-free concurrent reads; definitions
// are immutable once loaded.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given chain definitions.
func NewRegistry(chains []model.ChainDefinition) *Registry {
	r := &Registry{}
	r.Replace(chains)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(chains []model.ChainDefinition) {
	s := &snapshot{
		chains: make(map[string]model.ChainDefinition, len(chains)),
	}
	for _, c := range chains {
		s.chains[c.Kind] = c
	}
	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// ChainFor returns the chain definition for the given request kind.
func (r *Registry) ChainFor(kind string) (model.ChainDefinition, bool) {
	c, ok := r.current().chains[kind]
	return c, ok
}

// StagesFor returns the ordered stage list for the given kind, or nil if the
// kind is unknown.
func (r *Registry) StagesFor(kind string) []model.StageDefinition {
	c, ok := r.ChainFor(kind)
	if !ok {
		return nil
	}
	return c.Stages
}

// StageFor returns the stage definition with the given name within a kind's
// chain.
func (r *Registry) StageFor(kind, stage string) (model.StageDefinition, bool) {
	c, ok := r.ChainFor(kind)
	if !ok {
		return model.StageDefinition{}, false
	}
	for _, s := range c.Stages {
		if s.Name == stage {
			return s, true
		}
	}
	return model.StageDefinition{}, false
}

// NextStatus returns the status a request moves to when the given stage
// completes: the next stage name, or the chain's terminal token when the
// given stage is the last one. ok is false if the kind or stage is unknown.
func (r *Registry) NextStatus(kind, stage string) (string, bool) {
	c, ok := r.ChainFor(kind)
	if !ok {
		return "", false
	}
	for i, s := range c.Stages {
		if s.Name != stage {
			continue
		}
		if i+1 < len(c.Stages) {
			return c.Stages[i+1].Name, true
		}
		return c.Terminal, true
	}
	return "", false
}

// IsTerminal reports whether status is a terminal token for the given kind:
// the chain's own terminal state or one of the shared terminal statuses
// (rejected, closed).
func (r *Registry) IsTerminal(kind, status string) bool {
	if model.IsTerminalStatus(status) {
		return true
	}
	c, ok := r.ChainFor(kind)
	return ok && c.Terminal == status
}

// InitialStage returns the first stage name for the given kind.
func (r *Registry) InitialStage(kind string) (string, bool) {
	c, ok := r.ChainFor(kind)
	if !ok || len(c.Stages) == 0 {
		return "", false
	}
	return c.Stages[0].Name, true
}

// Kinds returns the sorted list of request kinds with a registered chain.
func (r *Registry) Kinds() []string {
	s := r.current()
	kinds := make([]string, 0, len(s.chains))
	for k := range s.chains {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// StagesForRole returns, per kind, the stage names whose role set includes
// the given role. Department constraints are not applied here; they depend
// on the individual request's originating department and are checked by the
// engine.
func (r *Registry) StagesForRole(role string) map[string][]string {
	s := r.current()
	result := make(map[string][]string)
	for kind, c := range s.chains {
		for _, stage := range c.Stages {
			if stage.AllowsRole(role) {
				result[kind] = append(result[kind], stage.Name)
			}
		}
	}
	return result
}
