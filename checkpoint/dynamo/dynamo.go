// Package dynamo persists checkpoints in DynamoDB.
//
// Checkpoints are versioned items under one partition per indexer. Saves use
// conditional writes, so a second process driving the same indexer fails fast
// with ErrConcurrentModification instead of silently overwriting progress.
//
// Table schema:
//   - Partition key: indexer (string) - the indexer name
//   - Sort key: seq (number) - the checkpoint sequence
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name pivotgo-checkpoints \
//	  --attribute-definitions AttributeName=indexer,AttributeType=S AttributeName=seq,AttributeType=N \
//	  --key-schema AttributeName=indexer,KeyType=HASH AttributeName=seq,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/pivotgo/checkpoint"
	"github.com/hupe1980/pivotgo/codec"
)

// ErrConcurrentModification is returned when a save lost against a writer
// that already committed the same sequence.
var ErrConcurrentModification = errors.New("concurrent checkpoint modification detected")

// Client is the interface for DynamoDB operations.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store implements checkpoint.Store on a DynamoDB table.
type Store struct {
	client    Client
	tableName string
	indexer   string
	codec     codec.Codec
	keep      int
}

// Options configures a Store.
type Options struct {
	// Codec encodes checkpoint payloads. Default codec.Default.
	Codec codec.Codec
	// Keep is the number of checkpoint items retained per indexer. Older
	// items are pruned after a successful save. Minimum 1; default 3.
	Keep int
}

// New creates a checkpoint store writing to tableName under the given
// indexer name.
func New(client Client, tableName, indexer string, optFns ...func(*Options)) *Store {
	opts := Options{
		Codec: codec.Default,
		Keep:  3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Keep < 1 {
		opts.Keep = 1
	}

	return &Store{
		client:    client,
		tableName: tableName,
		indexer:   indexer,
		codec:     opts.Codec,
		keep:      opts.Keep,
	}
}

// Load reads the checkpoint with the highest sequence number.
func (s *Store) Load(ctx context.Context) (*checkpoint.Checkpoint, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("indexer = :indexer"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":indexer": &types.AttributeValueMemberS{Value: s.indexer},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}

	if len(resp.Items) == 0 {
		return nil, checkpoint.ErrNoCheckpoint
	}

	payloadAttr, ok := resp.Items[0]["payload"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, errors.New("invalid payload attribute in checkpoint item")
	}

	var cp checkpoint.Checkpoint
	if err := s.codec.Unmarshal(payloadAttr.Value, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Save writes the checkpoint as a new item, failing if the sequence was
// already committed.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	payload, err := s.codec.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	// Conditional put: only succeed if this sequence doesn't exist yet.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"indexer":    &types.AttributeValueMemberS{Value: s.indexer},
			"seq":        &types.AttributeValueMemberN{Value: strconv.FormatUint(cp.Seq, 10)},
			"created_at": &types.AttributeValueMemberS{Value: cp.CreatedAt.UTC().Format(time.RFC3339Nano)},
			"payload":    &types.AttributeValueMemberB{Value: payload},
		},
		ConditionExpression: aws.String("attribute_not_exists(seq)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("put checkpoint: %w", err)
	}

	s.prune(ctx)
	return nil
}

// prune deletes checkpoint items beyond the retention count. Best-effort:
// a prune failure never fails the save that triggered it.
func (s *Store) prune(ctx context.Context) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("indexer = :indexer"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":indexer": &types.AttributeValueMemberS{Value: s.indexer},
		},
		ProjectionExpression: aws.String("seq"),
	})
	if err != nil || len(resp.Items) <= s.keep {
		return
	}

	// Query returns items in ascending sort-key order.
	for _, item := range resp.Items[:len(resp.Items)-s.keep] {
		seqAttr, ok := item["seq"].(*types.AttributeValueMemberN)
		if !ok {
			continue
		}
		_, _ = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"indexer": &types.AttributeValueMemberS{Value: s.indexer},
				"seq":     &types.AttributeValueMemberN{Value: seqAttr.Value},
			},
		})
	}
}
