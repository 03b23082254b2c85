package qdrant

import (
	"context"
	"errors"
	"sort"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/mock"
	"google.golang.org/grpc"

	"github.com/hupe1980/vecswitch/distance"
)

// fakePoints is an in-memory brute-force points service.
type fakePoints struct {
	mu       sync.Mutex
	distance pb.Distance
	vectors  map[uint64][]float32
	parts    map[uint64]string
}

func newFakePoints(d pb.Distance) *fakePoints {
	return &fakePoints{
		distance: d,
		vectors:  make(map[uint64][]float32),
		parts:    make(map[uint64]string),
	}
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range in.GetPoints() {
		id := p.GetId().GetNum()
		f.vectors[id] = append([]float32(nil), p.GetVectors().GetVector().GetData()...)
		f.parts[id] = p.GetPayload()[fieldPartition].GetStringValue()
	}
	return &pb.PointsOperationResponse{Result: &pb.UpdateResult{Status: pb.UpdateStatus_Completed}}, nil
}

func (f *fakePoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var want *string
	for _, c := range in.GetFilter().GetMust() {
		kw := c.GetField().GetMatch().GetKeyword()
		want = &kw
	}

	q := in.GetVector()
	var hits []*pb.ScoredPoint
	for id, v := range f.vectors {
		if want != nil && f.parts[id] != *want {
			continue
		}

		var score float32
		switch f.distance {
		case pb.Distance_Cosine:
			score = distance.CosineSimilarity(q, v)
		case pb.Distance_Dot:
			score = distance.Dot(q, v)
		default:
			score = distance.L2(q, v)
		}
		hits = append(hits, &pb.ScoredPoint{Id: pointID(int64(id)), Score: score})
	}

	desc := f.distance != pb.Distance_Euclid
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			if desc {
				return a.Score > b.Score
			}
			return a.Score < b.Score
		}
		return a.GetId().GetNum() < b.GetId().GetNum()
	})

	if limit := int(in.GetLimit()); len(hits) > limit {
		hits = hits[:limit]
	}
	return &pb.SearchResponse{Result: hits}, nil
}

func (f *fakePoints) Get(_ context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*pb.RetrievedPoint
	for _, pid := range in.GetIds() {
		v, ok := f.vectors[pid.GetNum()]
		if !ok {
			continue
		}
		out = append(out, &pb.RetrievedPoint{
			Id: pid,
			Vectors: &pb.VectorsOutput{VectorsOptions: &pb.VectorsOutput_Vector{
				Vector: &pb.VectorOutput{Data: append([]float32(nil), v...)},
			}},
		})
	}
	// The server does not promise request order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return &pb.GetResponse{Result: out}, nil
}

func (f *fakePoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &pb.CountResponse{Result: &pb.CountResult{Count: uint64(len(f.vectors))}}, nil
}

// MockCollectionsClient is a testify mock of CollectionsClient.
type MockCollectionsClient struct {
	mock.Mock
}

func (m *MockCollectionsClient) CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, _ ...grpc.CallOption) (*pb.CollectionExistsResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pb.CollectionExistsResponse), args.Error(1)
}

func (m *MockCollectionsClient) Create(ctx context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pb.CollectionOperationResponse), args.Error(1)
}

// MockPointsClient is a testify mock of PointsClient.
type MockPointsClient struct {
	mock.Mock
}

func (m *MockPointsClient) Upsert(ctx context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pb.PointsOperationResponse), args.Error(1)
}

func (m *MockPointsClient) Search(ctx context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pb.SearchResponse), args.Error(1)
}

func (m *MockPointsClient) Get(ctx context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pb.GetResponse), args.Error(1)
}

func (m *MockPointsClient) Count(ctx context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pb.CountResponse), args.Error(1)
}

// existingCollection answers CollectionExists with true.
func existingCollection() *MockCollectionsClient {
	m := new(MockCollectionsClient)
	m.On("CollectionExists", mock.Anything, mock.Anything).
		Return(&pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: true}}, nil)
	return m
}

var errUnavailable = errors.New("unavailable")
