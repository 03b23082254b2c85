//go:build !nohnsw

package vecswitch

import (
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/index/hnsw"
)

func init() {
	register(index.EngineHNSW, hnsw.Constructor)
}
