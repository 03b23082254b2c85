package redis

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
)

const (
	keyPrefix      = "item:"
	fieldEmbedding = "embedding"
	fieldItemID    = "item_id"
	fieldPartition = "partition"
	scoreAlias     = "vector_score"
)

// Policy maps every metric to a RediSearch distance.
var Policy = metric.All(index.EngineRedis)

// Client is the subset of *redis.Client the adapter uses.
type Client interface {
	Do(ctx context.Context, args ...any) *redis.Cmd
	TxPipeline() redis.Pipeliner
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Close() error
}

// Index is a RediSearch-backed vector index.
type Index struct {
	client Client
	name   string
	space  metric.Space
	dim    int
	params index.Params
	logger *slog.Logger
	limit  *rate.Limiter

	batchActive atomic.Bool

	mu     sync.RWMutex
	closed bool
}

// New connects to the server named by params.Credentials and creates the FT
// index. Credentials are required.
func New(ctx context.Context, space metric.Space, dim int, params index.Params) (*Index, error) {
	creds := params.Credentials
	if creds == nil || creds.Address == "" {
		return nil, fmt.Errorf("%w: redis address", index.ErrMissingCredentials)
	}

	opts := &redis.Options{
		Addr:     creds.Address,
		Username: creds.Username,
		Password: creds.Password,
		DB:       creds.DB,
		// FT.* replies are parsed in their RESP2 shape.
		Protocol: 2,
	}
	if creds.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	idx, err := NewWithClient(ctx, client, space, dim, params)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// NewWithClient creates the FT index through an existing client. The index
// takes ownership of the client.
func NewWithClient(ctx context.Context, client Client, space metric.Space, dim int, params index.Params) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("redis: invalid dimension %d", dim)
	}

	res, err := Policy.Normalize(space)
	if err != nil {
		return nil, err
	}

	params = params.WithDefaults()

	x := &Index{
		client: client,
		name:   params.Collection,
		space:  res.Resolved,
		dim:    dim,
		params: params,
		logger: params.Logger.With("engine", index.EngineRedis, "index", params.Collection),
	}

	if params.WriteRateLimit > 0 {
		burst := max(1, int(params.WriteRateLimit))
		x.limit = rate.NewLimiter(rate.Limit(params.WriteRateLimit), burst)
	}

	if err := x.createIndex(ctx); err != nil {
		return nil, err
	}

	return x, nil
}

// Constructor adapts New to index.Constructor.
func Constructor(ctx context.Context, space metric.Space, dim int, params index.Params) (index.Index, error) {
	idx, err := New(ctx, space, dim, params)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func distanceMetric(s metric.Space) string {
	switch s {
	case metric.Cosine:
		return "COSINE"
	case metric.InnerProduct:
		return "IP"
	default:
		return "L2"
	}
}

// InitialCapacity is the INITIAL_CAP hint passed to the vector field.
func (x *Index) InitialCapacity() int {
	if x.params.MaxElements > 0 {
		return x.params.MaxElements
	}
	return index.DefaultCapacity
}

func (x *Index) createIndex(ctx context.Context) error {
	args := []any{
		"FT.CREATE", x.name, "ON", "HASH", "PREFIX", "1", keyPrefix,
		"SCHEMA",
		fieldEmbedding, "VECTOR", "HNSW", "12",
		"TYPE", "FLOAT32",
		"DIM", x.dim,
		"DISTANCE_METRIC", distanceMetric(x.space),
		"INITIAL_CAP", x.InitialCapacity(),
		"M", x.params.M,
		"EF_CONSTRUCTION", x.params.EFConstruction,
		fieldItemID, "TEXT",
		fieldPartition, "TAG",
	}

	if err := x.client.Do(ctx, args...).Err(); err != nil {
		if strings.Contains(err.Error(), "Index already exists") {
			x.logger.Debug("reusing existing index")
			return nil
		}
		return fmt.Errorf("redis: create index %s: %w", x.name, err)
	}

	x.logger.Debug("created index", "dim", x.dim, "metric", distanceMetric(x.space))
	return nil
}

// Engine implements index.Index.
func (x *Index) Engine() string { return index.EngineRedis }

// Space implements index.Index.
func (x *Index) Space() metric.Space { return x.space }

// Dimension implements index.Index.
func (x *Index) Dimension() int { return x.dim }

// MaxElements implements index.Index. The server grows the vector field on
// demand, so the index is unbounded.
func (x *Index) MaxElements() int { return -1 }

func (x *Index) checkOpen() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return index.ErrClosed
	}
	return nil
}

// AddItems implements index.Index. The batch is written in one MULTI/EXEC.
func (x *Index) AddItems(ctx context.Context, vectors [][]float32, ids []int64) error {
	return x.AddItemsPartition(ctx, "", vectors, ids)
}

// AddItemsPartition implements index.Partitioner.
func (x *Index) AddItemsPartition(ctx context.Context, partition string, vectors [][]float32, ids []int64) error {
	if err := index.ValidateBatch(x.dim, vectors, ids); err != nil {
		return err
	}
	if err := x.checkOpen(); err != nil {
		return err
	}

	pipe := x.client.TxPipeline()
	x.queue(ctx, pipe, partition, vectors, ids)
	return x.exec(ctx, pipe, len(vectors))
}

func (x *Index) queue(ctx context.Context, pipe redis.Pipeliner, partition string, vectors [][]float32, ids []int64) {
	for i, v := range vectors {
		pipe.HSet(ctx, itemKey(ids[i]),
			fieldEmbedding, encodeVector(v),
			fieldItemID, strconv.FormatInt(ids[i], 10),
			fieldPartition, partition,
		)
	}
}

func (x *Index) exec(ctx context.Context, pipe redis.Pipeliner, n int) error {
	if n == 0 {
		pipe.Discard()
		return nil
	}

	if err := x.wait(ctx, n); err != nil {
		pipe.Discard()
		return err
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: write %d items: %w", n, err)
	}
	return nil
}

// wait blocks until the rate limiter admits n writes.
func (x *Index) wait(ctx context.Context, n int) error {
	if x.limit == nil {
		return nil
	}
	for n > 0 {
		step := min(n, x.limit.Burst())
		if err := x.limit.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Batch implements index.BatchWriter. Writes queued through b are committed
// atomically when fn returns nil and discarded otherwise. Only one batch may
// be open per index.
func (x *Index) Batch(ctx context.Context, fn func(b index.Batch) error) error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	if !x.batchActive.CompareAndSwap(false, true) {
		return index.ErrPipelineActive
	}
	defer x.batchActive.Store(false)

	b := &batch{x: x, ctx: ctx, pipe: x.client.TxPipeline()}

	if err := fn(b); err != nil {
		b.pipe.Discard()
		return err
	}

	return x.exec(ctx, b.pipe, b.n)
}

type batch struct {
	x    *Index
	ctx  context.Context
	pipe redis.Pipeliner
	n    int
}

func (b *batch) Add(partition string, vectors [][]float32, ids []int64) error {
	if err := index.ValidateBatch(b.x.dim, vectors, ids); err != nil {
		return err
	}
	b.x.queue(b.ctx, b.pipe, partition, vectors, ids)
	b.n += len(vectors)
	return nil
}

// GetItems implements index.Index. Missing ids yield nil slots.
func (x *Index) GetItems(ctx context.Context, ids []int64) ([][]float32, error) {
	if err := x.checkOpen(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(ids))
	for i, id := range ids {
		b, err := x.client.HGet(ctx, itemKey(id), fieldEmbedding).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: get %d: %w", id, err)
		}

		v, err := decodeVector(b, x.dim)
		if err != nil {
			return nil, fmt.Errorf("redis: item %d: %w", id, err)
		}
		out[i] = v
	}
	return out, nil
}

// Search implements index.Index.
func (x *Index) Search(ctx context.Context, queries [][]float32, k int) ([][]index.Result, error) {
	return x.SearchPartition(ctx, "", queries, k)
}

// SearchPartition implements index.Partitioner. An empty partition searches
// every item.
func (x *Index) SearchPartition(ctx context.Context, partition string, queries [][]float32, k int) ([][]index.Result, error) {
	if err := index.ValidateQueries(x.dim, queries, k); err != nil {
		return nil, err
	}
	if err := x.checkOpen(); err != nil {
		return nil, err
	}

	out := index.EmptyResults(len(queries))
	err := index.ParallelQueries(ctx, x.params.NumThreads, len(queries), func(ctx context.Context, qi int) error {
		res, err := x.knn(ctx, partition, queries[qi], k)
		if err != nil {
			return err
		}
		out[qi] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Query renders the KNN query string.
func Query(partition string, k int) string {
	filter := "*"
	if partition != "" {
		filter = "(@" + fieldPartition + ":{" + EscapeTag(partition) + "})"
	}
	return fmt.Sprintf("%s=>[KNN %d @%s $vec AS %s]", filter, k, fieldEmbedding, scoreAlias)
}

func (x *Index) knn(ctx context.Context, partition string, q []float32, k int) ([]index.Result, error) {
	reply, err := x.client.Do(ctx,
		"FT.SEARCH", x.name, Query(partition, k),
		"PARAMS", "2", "vec", encodeVector(q),
		"SORTBY", scoreAlias,
		"RETURN", "2", scoreAlias, fieldItemID,
		"LIMIT", "0", k,
		"DIALECT", "2",
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis: search: %w", err)
	}

	return parseSearchReply(reply)
}

// parseSearchReply decodes a RESP2 FT.SEARCH reply:
// [total, key, [field, value, ...], key, [...], ...].
func parseSearchReply(reply []any) ([]index.Result, error) {
	if len(reply) == 0 {
		return nil, errors.New("redis: empty search reply")
	}

	out := make([]index.Result, 0, (len(reply)-1)/2)
	for i := 1; i+1 < len(reply); i += 2 {
		fields, ok := reply[i+1].([]any)
		if !ok {
			return nil, fmt.Errorf("redis: unexpected document %T", reply[i+1])
		}

		var (
			r      index.Result
			haveID bool
		)
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			value := fmt.Sprint(fields[j+1])

			switch name {
			case scoreAlias:
				s, err := strconv.ParseFloat(value, 32)
				if err != nil {
					return nil, fmt.Errorf("redis: score %q: %w", value, err)
				}
				r.Score = float32(s)
			case fieldItemID:
				id, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("redis: item id %q: %w", value, err)
				}
				r.ID = id
				haveID = true
			}
		}

		if !haveID {
			return nil, fmt.Errorf("redis: document %v has no %s", reply[i], fieldItemID)
		}
		out = append(out, r)
	}

	return out, nil
}

// Count implements index.Index. It is not supported.
func (x *Index) Count(context.Context) (int, error) {
	return 0, fmt.Errorf("redis: count: %w", index.ErrNotImplemented)
}

// Save implements index.Index. It is not supported.
func (x *Index) Save(context.Context, string) error {
	return fmt.Errorf("redis: save: %w", index.ErrNotImplemented)
}

// Load implements index.Index. It is not supported.
func (x *Index) Load(context.Context, string) error {
	return fmt.Errorf("redis: load: %w", index.ErrNotImplemented)
}

// Close implements index.Index and closes the client.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	return x.client.Close()
}

func itemKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

// EscapeTag escapes RediSearch tag punctuation.
func EscapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ ", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte, dim int) ([]float32, error) {
	if len(b) != 4*dim {
		return nil, &index.ErrDimensionMismatch{Expected: dim, Actual: len(b) / 4}
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

var (
	_ index.Index       = (*Index)(nil)
	_ index.Partitioner = (*Index)(nil)
	_ index.BatchWriter = (*Index)(nil)
	_ Client            = (*redis.Client)(nil)
)
