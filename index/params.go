package index

import (
	"io"
	"log/slog"

	"github.com/hupe1980/vecswitch/blobstore"
)

const (
	// DefaultCapacity is allocated on first insert when no capacity was declared.
	DefaultCapacity = 1024

	// DefaultM is the default number of graph neighbors per node.
	DefaultM = 16

	// DefaultEFConstruction is the default candidate list size during inserts.
	DefaultEFConstruction = 200

	// DefaultEF is the default candidate list size during search.
	DefaultEF = 10
)

// Credentials address a networked store.
type Credentials struct {
	Address  string
	Username string
	Password string
	APIKey   string
	DB       int
	TLS      bool
}

// Params carries construction parameters shared by all backends.
// Each backend reads the fields that apply to it and ignores the rest.
type Params struct {
	// MaxElements is the declared capacity. 0 defers to DefaultCapacity.
	MaxElements int

	// M is the graph out-degree.
	M int

	// EFConstruction is the insert-time candidate list size.
	EFConstruction int

	// EF is the search-time candidate list size.
	EF int

	// IndexFactory selects the flat engine layout: "Flat", "SQ8" or "PQ<m>".
	IndexFactory string

	// NumThreads bounds query fan-out. 0 uses GOMAXPROCS, 1 runs sequentially.
	NumThreads int

	// Credentials are required by networked backends.
	Credentials *Credentials

	// Collection names the remote index or collection. Defaults to "vecswitch".
	Collection string

	// Store receives snapshots. Nil uses the local file system.
	Store blobstore.Store

	// Compression is applied to snapshot payloads.
	Compression Compression

	// WriteRateLimit caps networked writes per second. 0 is unlimited.
	WriteRateLimit float64

	// RandomSeed makes graph construction deterministic when set.
	RandomSeed *int64

	// Logger receives warnings and debug output. Nil discards.
	Logger *slog.Logger
}

// DefaultParams returns the default construction parameters.
func DefaultParams() Params {
	return Params{
		M:              DefaultM,
		EFConstruction: DefaultEFConstruction,
		EF:             DefaultEF,
		IndexFactory:   "Flat",
		Collection:     "vecswitch",
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.M <= 0 {
		p.M = d.M
	}
	if p.EFConstruction <= 0 {
		p.EFConstruction = d.EFConstruction
	}
	if p.EF <= 0 {
		p.EF = d.EF
	}
	if p.IndexFactory == "" {
		p.IndexFactory = d.IndexFactory
	}
	if p.Collection == "" {
		p.Collection = d.Collection
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p
}

// SnapshotStore returns the configured store or the local file system.
func (p Params) SnapshotStore() blobstore.Store {
	if p.Store != nil {
		return p.Store
	}
	return blobstore.NewLocalStore("")
}
