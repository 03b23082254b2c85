package vecswitch

import (
	"os"
	"sort"
	"strings"

	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/index/exact"
)

// DisableEnv lists engines, comma separated, that Detect reports as unavailable.
const DisableEnv = "VECSWITCH_DISABLE"

// compiled holds the constructors linked into the binary.
// Engines other than exact can be left out with the no<engine> build tags
// (e.g. -tags noredis,noqdrant).
var compiled = map[string]index.Constructor{
	index.EngineExact: exact.Constructor,
}

func register(engine string, c index.Constructor) {
	compiled[engine] = c
}

// Features is the set of engines available to the selector.
// Compute it once with Detect and pass it to Resolve or Open.
type Features struct {
	engines map[string]bool
}

// NewFeatures returns a feature set containing exactly the given engines.
// The exact engine is always available.
func NewFeatures(engines ...string) Features {
	f := Features{engines: map[string]bool{index.EngineExact: true}}
	for _, e := range engines {
		f.engines[strings.ToLower(e)] = true
	}
	return f
}

// Detect reports the compiled engines minus the ones named in VECSWITCH_DISABLE.
func Detect() Features {
	return DetectWithout(strings.Split(os.Getenv(DisableEnv), ",")...)
}

// DetectWithout reports the compiled engines minus the given ones.
// The exact engine cannot be disabled.
func DetectWithout(disabled ...string) Features {
	skip := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			skip[d] = true
		}
	}

	var engines []string
	for e := range compiled {
		if !skip[e] {
			engines = append(engines, e)
		}
	}
	return NewFeatures(engines...)
}

// Has reports whether engine is available.
func (f Features) Has(engine string) bool {
	if engine == index.EngineExact {
		return true
	}
	if _, ok := compiled[engine]; !ok {
		return false
	}
	return f.engines[engine]
}

// Engines returns the available engines in sorted order.
func (f Features) Engines() []string {
	out := []string{index.EngineExact}
	for e := range f.engines {
		if e != index.EngineExact && f.Has(e) {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}
