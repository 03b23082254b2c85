//go:build !noqdrant

package vecswitch

import (
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/index/qdrant"
)

func init() {
	register(index.EngineQdrant, qdrant.Constructor)
}
