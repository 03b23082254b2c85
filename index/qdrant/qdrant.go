// Package qdrant implements index.Index on top of a Qdrant collection over gRPC.
//
// Ids map to numeric point ids, the partition is stored as a keyword payload
// field and used as a search filter. Scores are returned as Qdrant reports
// them: similarities for Cosine and Dot (descending) and distances for Euclid
// (ascending). Save and Load are not supported.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pb "github.com/qdrant/go-client/qdrant"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
)

const fieldPartition = "partition"

// Policy maps every metric to a Qdrant distance.
var Policy = metric.All(index.EngineQdrant)

// PointsClient is the subset of pb.PointsClient the adapter uses.
type PointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// CollectionsClient is the subset of pb.CollectionsClient the adapter uses.
type CollectionsClient interface {
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Index is a Qdrant-backed vector index.
type Index struct {
	points      PointsClient
	collections CollectionsClient
	closer      func() error

	collection string
	space      metric.Space
	dim        int
	params     index.Params
	logger     *slog.Logger
	limit      *rate.Limiter

	batchActive atomic.Bool

	mu     sync.RWMutex
	closed bool
}

// New dials the server named by params.Credentials and ensures the collection
// exists. Credentials are required.
func New(ctx context.Context, space metric.Space, dim int, params index.Params) (*Index, error) {
	creds := params.Credentials
	if creds == nil || creds.Address == "" {
		return nil, fmt.Errorf("%w: qdrant address", index.ErrMissingCredentials)
	}

	transport := insecure.NewCredentials()
	if creds.TLS {
		transport = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(transport)}
	if creds.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(creds.APIKey)))
	}

	conn, err := grpc.NewClient(creds.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	idx, err := NewWithClients(ctx, pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), space, dim, params)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	idx.closer = conn.Close

	return idx, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// NewWithClients ensures the collection exists using existing clients.
func NewWithClients(ctx context.Context, points PointsClient, collections CollectionsClient, space metric.Space, dim int, params index.Params) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("qdrant: invalid dimension %d", dim)
	}

	res, err := Policy.Normalize(space)
	if err != nil {
		return nil, err
	}

	params = params.WithDefaults()

	x := &Index{
		points:      points,
		collections: collections,
		closer:      func() error { return nil },
		collection:  params.Collection,
		space:       res.Resolved,
		dim:         dim,
		params:      params,
		logger:      params.Logger.With("engine", index.EngineQdrant, "collection", params.Collection),
	}

	if params.WriteRateLimit > 0 {
		x.limit = rate.NewLimiter(rate.Limit(params.WriteRateLimit), max(1, int(params.WriteRateLimit)))
	}

	if err := x.ensureCollection(ctx); err != nil {
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

// Distance maps a metric space to a Qdrant distance.
func Distance(s metric.Space) pb.Distance {
	switch s {
	case metric.Cosine:
		return pb.Distance_Cosine
	case metric.InnerProduct:
		return pb.Distance_Dot
	default:
		return pb.Distance_Euclid
	}
}

func (x *Index) ensureCollection(ctx context.Context) error {
	resp, err := x.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: x.collection})
	if err != nil {
		return fmt.Errorf("qdrant: collection exists: %w", err)
	}
	if resp.GetResult().GetExists() {
		x.logger.Debug("reusing existing collection")
		return nil
	}

	m := uint64(x.params.M)
	efc := uint64(x.params.EFConstruction)

	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(x.dim),
			Distance: Distance(x.space),
		}}},
		HnswConfig: &pb.HnswConfigDiff{M: &m, EfConstruct: &efc},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", x.collection, err)
	}

	x.logger.Debug("created collection", "dim", x.dim, "distance", Distance(x.space).String())
	return nil
}

// Engine implements index.Index.
func (x *Index) Engine() string { return index.EngineQdrant }

// Space implements index.Index.
func (x *Index) Space() metric.Space { return x.space }

// Dimension implements index.Index.
func (x *Index) Dimension() int { return x.dim }

// MaxElements implements index.Index. Collections are unbounded.
func (x *Index) MaxElements() int { return -1 }

// Descending reports whether higher scores rank first.
func (x *Index) Descending() bool { return x.space != metric.Euclidean }

func (x *Index) checkOpen() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return index.ErrClosed
	}
	return nil
}

// AddItems implements index.Index. The batch is sent as one upsert.
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
	return x.upsert(ctx, toPoints(partition, vectors, ids))
}

func toPoints(partition string, vectors [][]float32, ids []int64) []*pb.PointStruct {
	points := make([]*pb.PointStruct, len(vectors))
	for i, v := range vectors {
		data := make([]float32, len(v))
		copy(data, v)

		points[i] = &pb.PointStruct{
			Id:      pointID(ids[i]),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: data}}},
			Payload: map[string]*pb.Value{
				fieldPartition: {Kind: &pb.Value_StringValue{StringValue: partition}},
			},
		}
	}
	return points
}

func (x *Index) upsert(ctx context.Context, points []*pb.PointStruct) error {
	if len(points) == 0 {
		return nil
	}

	if x.limit != nil {
		for n := len(points); n > 0; {
			step := min(n, x.limit.Burst())
			if err := x.limit.WaitN(ctx, step); err != nil {
				return err
			}
			n -= step
		}
	}

	wait := true
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Batch implements index.BatchWriter. Points added through b are sent in a
// single upsert when fn returns nil and dropped otherwise.
func (x *Index) Batch(ctx context.Context, fn func(b index.Batch) error) error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	if !x.batchActive.CompareAndSwap(false, true) {
		return index.ErrPipelineActive
	}
	defer x.batchActive.Store(false)

	b := &batch{dim: x.dim}
	if err := fn(b); err != nil {
		return err
	}
	return x.upsert(ctx, b.points)
}

type batch struct {
	dim    int
	points []*pb.PointStruct
}

func (b *batch) Add(partition string, vectors [][]float32, ids []int64) error {
	if err := index.ValidateBatch(b.dim, vectors, ids); err != nil {
		return err
	}
	b.points = append(b.points, toPoints(partition, vectors, ids)...)
	return nil
}

// GetItems implements index.Index. Missing ids yield nil slots.
func (x *Index) GetItems(ctx context.Context, ids []int64) ([][]float32, error) {
	if err := x.checkOpen(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}

	resp, err := x.points.Get(ctx, &pb.GetPoints{
		CollectionName: x.collection,
		Ids:            pids,
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get: %w", err)
	}

	found := make(map[int64][]float32, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		found[int64(p.GetId().GetNum())] = p.GetVectors().GetVector().GetData()
	}

	for i, id := range ids {
		out[i] = found[id]
	}
	return out, nil
}

// Search implements index.Index.
func (x *Index) Search(ctx context.Context, queries [][]float32, k int) ([][]index.Result, error) {
	return x.SearchPartition(ctx, "", queries, k)
}

// SearchPartition implements index.Partitioner. An empty partition searches
// every point.
func (x *Index) SearchPartition(ctx context.Context, partition string, queries [][]float32, k int) ([][]index.Result, error) {
	if err := index.ValidateQueries(x.dim, queries, k); err != nil {
		return nil, err
	}
	if err := x.checkOpen(); err != nil {
		return nil, err
	}

	ef := uint64(max(x.params.EF, k))

	out := index.EmptyResults(len(queries))
	err := index.ParallelQueries(ctx, x.params.NumThreads, len(queries), func(ctx context.Context, qi int) error {
		resp, err := x.points.Search(ctx, &pb.SearchPoints{
			CollectionName: x.collection,
			Vector:         queries[qi],
			Limit:          uint64(k),
			Filter:         partitionFilter(partition),
			Params:         &pb.SearchParams{HnswEf: &ef},
		})
		if err != nil {
			return fmt.Errorf("qdrant: search: %w", err)
		}

		res := make([]index.Result, len(resp.GetResult()))
		for i, p := range resp.GetResult() {
			res[i] = index.Result{ID: int64(p.GetId().GetNum()), Score: p.GetScore()}
		}
		out[qi] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func partitionFilter(partition string) *pb.Filter {
	if partition == "" {
		return nil
	}
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   fieldPartition,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: partition}},
		}},
	}}}
}

// Count implements index.Index with an exact point count.
func (x *Index) Count(ctx context.Context) (int, error) {
	if err := x.checkOpen(); err != nil {
		return 0, err
	}

	exact := true
	resp, err := x.points.Count(ctx, &pb.CountPoints{CollectionName: x.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Save implements index.Index. It is not supported.
func (x *Index) Save(context.Context, string) error {
	return fmt.Errorf("qdrant: save: %w", index.ErrNotImplemented)
}

// Load implements index.Index. It is not supported.
func (x *Index) Load(context.Context, string) error {
	return fmt.Errorf("qdrant: load: %w", index.ErrNotImplemented)
}

// Close implements index.Index and closes the connection it dialed.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	return x.closer()
}

func pointID(id int64) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}}
}

var (
	_ index.Index       = (*Index)(nil)
	_ index.Partitioner = (*Index)(nil)
	_ index.BatchWriter = (*Index)(nil)
	_ PointsClient      = pb.PointsClient(nil)
	_ CollectionsClient = pb.CollectionsClient(nil)
)
