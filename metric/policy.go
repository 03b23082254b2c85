package metric

import "fmt"

// Policy describes which spaces an engine computes natively and which
// requests it serves by downgrading to a neighbouring space.
type Policy struct {
	Engine    string
	Native    []Space
	Downgrade map[Space]Space
}

// Resolution is the outcome of Policy.Normalize.
type Resolution struct {
	Requested  Space
	Resolved   Space
	Downgraded bool
}

// Normalize maps the requested space onto a space the engine supports.
// It never silently substitutes: a downgrade is reported on the resolution
// and a space with no mapping returns ErrUnsupported.
func (p Policy) Normalize(s Space) (Resolution, error) {
	if !s.Valid() {
		return Resolution{}, fmt.Errorf("%w: %v", ErrUnsupported, s)
	}
	for _, n := range p.Native {
		if n == s {
			return Resolution{Requested: s, Resolved: s}, nil
		}
	}
	if d, ok := p.Downgrade[s]; ok {
		return Resolution{Requested: s, Resolved: d, Downgraded: true}, nil
	}
	return Resolution{}, fmt.Errorf("%w: %v is not supported by %s", ErrUnsupported, s, p.Engine)
}

// Supports reports whether the engine handles s either natively or by downgrade.
func (p Policy) Supports(s Space) bool {
	_, err := p.Normalize(s)
	return err == nil
}

// All is the policy of an engine that computes every space natively.
func All(engine string) Policy {
	return Policy{Engine: engine, Native: []Space{InnerProduct, Cosine, Euclidean}}
}
