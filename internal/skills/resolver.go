package skills

import "github.com/saorsa-labs/fae/internal/mutation"

// PromotionResolver adapts the Python and markdown skill registries to
// mutation.StatusResolver, so a manifest sync derives promotion_state from
// actual registry lifecycle state rather than defaulting every artifact to
// Unknown.
type PromotionResolver struct {
	Python  *Registry
	Managed *ManagedRegistry
}

// NewPromotionResolver builds a resolver over both skill families. Either
// registry may be nil, in which case that family never resolves.
func NewPromotionResolver(python *Registry, managed *ManagedRegistry) *PromotionResolver {
	return &PromotionResolver{Python: python, Managed: managed}
}

// StateForSkillPath implements mutation.StatusResolver by looking path up in
// the Python registry first, then the markdown registry.
func (p *PromotionResolver) StateForSkillPath(path string) (mutation.PromotionState, bool) {
	if p.Python != nil {
		if rec, ok := p.Python.FindByScriptPath(path); ok {
			return statusToPromotionState(rec.Status), true
		}
	}
	if p.Managed != nil {
		if rec, ok := p.Managed.FindByScriptPath(path); ok {
			return statusToPromotionState(rec.Status), true
		}
	}
	return mutation.StateUnknown, false
}

// statusToPromotionState maps a skill lifecycle Status onto the manifest's
// broader PromotionState vocabulary.
func statusToPromotionState(s Status) mutation.PromotionState {
	switch s {
	case StatusPending:
		return mutation.StateStaging
	case StatusTesting:
		return mutation.StateCanary
	case StatusActive:
		return mutation.StateActive
	case StatusDisabled:
		return mutation.StateSnapshot
	case StatusQuarantined:
		return mutation.StateQuarantined
	default:
		return mutation.StateUnknown
	}
}
