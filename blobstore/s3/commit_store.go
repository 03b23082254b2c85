package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vecswitch/blobstore"
)

// CommitStore implements blobstore.Store backed by S3 with DynamoDB
// as a commit log. Every Put writes an immutable object version to S3 and
// then atomically advances the blob's version in DynamoDB, so concurrent
// writers of the same snapshot cannot silently overwrite each other.
//
// Table schema:
//   - Partition key: blob_uri (string) - the store's base URI plus blob name
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name vecswitch-commits \
//	  --attribute-definitions AttributeName=blob_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=blob_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	objects   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrConcurrentModification is returned when a concurrent write is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// NewVersioned creates a CommitStore for bucket with its commit log in
// the DynamoDB table, using the default AWS credential chain for both.
func NewVersioned(ctx context.Context, bucket, tableName string, optFns ...Option) (*CommitStore, error) {
	opts := newOptions(optFns)

	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	objects := NewStoreWithConfig(newClient(cfg, opts), bucket, opts.prefix, opts.upload)
	baseURI := "s3://" + path.Join(bucket, opts.prefix)

	return NewCommitStore(objects, dynamodb.NewFromConfig(cfg), tableName, baseURI), nil
}

// NewCommitStore creates a new S3+DynamoDB commit store.
// baseURI (e.g. "s3://bucket/prefix") namespaces the commit log entries.
func NewCommitStore(objects *Store, ddbClient DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		objects:   objects,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Put uploads a new version of the blob and commits it.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	current, _, err := s.latest(ctx, name)
	if err != nil {
		return err
	}

	next := current + 1
	objectName := versionedName(name, next)

	if err := s.objects.Put(ctx, objectName, data); err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"blob_uri":    &types.AttributeValueMemberS{Value: s.uri(name)},
			"version":     &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"object_name": &types.AttributeValueMemberS{Value: objectName},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		// The uploaded object is orphaned; nothing references it.
		_ = s.objects.Delete(ctx, objectName)

		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}

	return nil
}

// Get reads the latest committed version of the blob.
func (s *CommitStore) Get(ctx context.Context, name string) ([]byte, error) {
	version, objectName, err := s.latest(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return s.objects.Get(ctx, objectName)
}

// Delete removes every committed version of the blob.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	versions, err := s.versions(ctx, name)
	if err != nil {
		return err
	}

	for _, v := range versions {
		if err := s.objects.Delete(ctx, v.objectName); err != nil {
			return err
		}
		_, err := s.ddbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"blob_uri": &types.AttributeValueMemberS{Value: s.uri(name)},
				"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(v.version, 10)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete version %d: %w", v.version, err)
		}
	}

	return nil
}

// List returns the logical blob names with at least one stored version.
func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := path.Dir(k)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}

// Version returns the latest committed version of the blob, or 0.
func (s *CommitStore) Version(ctx context.Context, name string) (uint64, error) {
	v, _, err := s.latest(ctx, name)
	return v, err
}

func (s *CommitStore) uri(name string) string {
	return s.baseURI + "#" + name
}

func versionedName(name string, version uint64) string {
	return fmt.Sprintf("%s/%020d", name, version)
}

type commit struct {
	version    uint64
	objectName string
}

func (s *CommitStore) latest(ctx context.Context, name string) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("blob_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.uri(name)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query DynamoDB: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	c, err := parseCommit(resp.Items[0])
	if err != nil {
		return 0, "", err
	}
	return c.version, c.objectName, nil
}

func (s *CommitStore) versions(ctx context.Context, name string) ([]commit, error) {
	var (
		out   []commit
		start map[string]types.AttributeValue
	)

	for {
		resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("blob_uri = :uri"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uri": &types.AttributeValueMemberS{Value: s.uri(name)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}

		for _, item := range resp.Items {
			c, err := parseCommit(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}

		if len(resp.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func parseCommit(item map[string]types.AttributeValue) (commit, error) {
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return commit{}, errors.New("invalid version attribute in DynamoDB")
	}
	nameAttr, ok := item["object_name"].(*types.AttributeValueMemberS)
	if !ok {
		return commit{}, errors.New("invalid object_name attribute in DynamoDB")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return commit{}, fmt.Errorf("failed to parse version: %w", err)
	}

	return commit{version: version, objectName: nameAttr.Value}, nil
}
