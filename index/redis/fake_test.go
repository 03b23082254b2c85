package redis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/vecswitch/distance"
)

// fakeClient serves hashes from miniredis and answers FT.CREATE/FT.SEARCH by
// brute force over the stored embeddings.
type fakeClient struct {
	*redis.Client
	mr *miniredis.Miniredis

	mu      sync.Mutex
	indexes map[string]fakeIndex
	calls   [][]any
}

type fakeIndex struct {
	dim    int
	metric string
}

func newFakeClient(t *testing.T) *fakeClient {
	t.Helper()

	mr := miniredis.RunT(t)
	return &fakeClient{
		Client:  redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2}),
		mr:      mr,
		indexes: make(map[string]fakeIndex),
	}
}

func (c *fakeClient) Do(ctx context.Context, args ...any) *redis.Cmd {
	name, _ := args[0].(string)
	if !strings.HasPrefix(name, "FT.") {
		return c.Client.Do(ctx, args...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, args)

	switch name {
	case "FT.CREATE":
		return c.create(args)
	case "FT.SEARCH":
		return c.search(args)
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("ERR unknown command %s", name))
	}
}

func (c *fakeClient) lastCall(cmd string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.calls) - 1; i >= 0; i-- {
		if c.calls[i][0] == cmd {
			return c.calls[i]
		}
	}
	return nil
}

func argAfter(args []any, key string) any {
	for i := 0; i+1 < len(args); i++ {
		if s, ok := args[i].(string); ok && s == key {
			return args[i+1]
		}
	}
	return nil
}

func (c *fakeClient) create(args []any) *redis.Cmd {
	name := args[1].(string)
	if _, ok := c.indexes[name]; ok {
		return redis.NewCmdResult(nil, errors.New("Index already exists"))
	}

	c.indexes[name] = fakeIndex{
		dim:    argAfter(args, "DIM").(int),
		metric: argAfter(args, "DISTANCE_METRIC").(string),
	}
	return redis.NewCmdResult("OK", nil)
}

var (
	knnPattern       = regexp.MustCompile(`KNN (\d+) @embedding \$vec AS vector_score`)
	partitionPattern = regexp.MustCompile(`^\(@partition:\{(.*)\}\)=>`)
)

func (c *fakeClient) search(args []any) *redis.Cmd {
	idx, ok := c.indexes[args[1].(string)]
	if !ok {
		return redis.NewCmdResult(nil, errors.New("no such index"))
	}

	query := args[2].(string)
	m := knnPattern.FindStringSubmatch(query)
	if m == nil {
		return redis.NewCmdResult(nil, fmt.Errorf("Syntax error in %q", query))
	}
	k, _ := strconv.Atoi(m[1])

	partition, filtered := "", false
	if p := partitionPattern.FindStringSubmatch(query); p != nil {
		partition, filtered = unescapeTag(p[1]), true
	}

	q, err := decodeVector(argAfter(args, "vec").([]byte), idx.dim)
	if err != nil {
		return redis.NewCmdResult(nil, err)
	}

	type hit struct {
		key   string
		id    string
		score float32
	}

	var hits []hit
	for _, key := range c.mr.Keys() {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		if filtered && c.mr.HGet(key, fieldPartition) != partition {
			continue
		}

		v, err := decodeVector([]byte(c.mr.HGet(key, fieldEmbedding)), idx.dim)
		if err != nil {
			continue
		}

		var score float32
		switch idx.metric {
		case "COSINE":
			score = 1 - distance.CosineSimilarity(q, v)
		case "IP":
			score = 1 - distance.Dot(q, v)
		default:
			score = distance.SquaredL2(q, v)
		}
		hits = append(hits, hit{key: key, id: c.mr.HGet(key, fieldItemID), score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score < hits[j].score
		}
		return hits[i].key < hits[j].key
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	reply := []any{int64(len(hits))}
	for _, h := range hits {
		reply = append(reply, h.key, []any{
			scoreAlias, strconv.FormatFloat(float64(h.score), 'g', -1, 32),
			fieldItemID, h.id,
		})
	}
	return redis.NewCmdResult(reply, nil)
}

func unescapeTag(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
