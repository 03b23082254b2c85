//go:build !noflat

package vecswitch

import (
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/index/flat"
)

func init() {
	register(index.EngineFlat, flat.Constructor)
}
