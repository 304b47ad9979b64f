package dynamo

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pivotgo/checkpoint"
	"github.com/hupe1980/pivotgo/model"
)

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := New(newFakeDDB(), "pivotgo-checkpoints", "orders")

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)

	cp := &checkpoint.Checkpoint{
		Seq:       1,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Position:  &model.Position{After: map[string]any{"sku": "sku-812"}},
		Stats:     model.StatsSnapshot{Pages: 2, DocsRead: 900, DocsIndexed: 31},
		PageSize:  500,
	}
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Seq)
	require.Equal(t, "sku-812", got.Position.After["sku"])
	require.Equal(t, cp.Stats, got.Stats)
}

func TestStore_LoadsNewest(t *testing.T) {
	ctx := context.Background()
	store := New(newFakeDDB(), "pivotgo-checkpoints", "orders")

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, store.Save(ctx, &checkpoint.Checkpoint{Seq: seq, PageSize: int(seq * 100)}))
	}

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Seq)
	require.Equal(t, 300, got.PageSize)
}

func TestStore_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()

	a := New(ddb, "pivotgo-checkpoints", "orders")
	b := New(ddb, "pivotgo-checkpoints", "orders")

	require.NoError(t, a.Save(ctx, &checkpoint.Checkpoint{Seq: 1, PageSize: 500}))

	// A second writer that resumed from the same state computes the same
	// next sequence and must lose the conditional write.
	err := b.Save(ctx, &checkpoint.Checkpoint{Seq: 1, PageSize: 500})
	require.ErrorIs(t, err, ErrConcurrentModification)
}

func TestStore_IndexerPartitions(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()

	orders := New(ddb, "pivotgo-checkpoints", "orders")
	users := New(ddb, "pivotgo-checkpoints", "users")

	require.NoError(t, orders.Save(ctx, &checkpoint.Checkpoint{Seq: 4, PageSize: 10}))
	require.NoError(t, users.Save(ctx, &checkpoint.Checkpoint{Seq: 9, PageSize: 20}))

	gotOrders, err := orders.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), gotOrders.Seq)

	gotUsers, err := users.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), gotUsers.Seq)
}

func TestStore_Retention(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	store := New(ddb, "pivotgo-checkpoints", "orders", func(o *Options) {
		o.Keep = 2
	})

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, store.Save(ctx, &checkpoint.Checkpoint{Seq: seq, PageSize: 500}))
	}

	require.Equal(t, []uint64{4, 5}, ddb.seqs("orders"))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Seq)
}

// fakeDDB is an in-memory stand-in honoring the subset of DynamoDB semantics
// the store relies on: per-partition sort order, Limit, ScanIndexForward, and
// attribute_not_exists conditional puts.
type fakeDDB struct {
	mu         sync.Mutex
	partitions map[string]map[uint64]map[string]types.AttributeValue
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{partitions: make(map[string]map[uint64]map[string]types.AttributeValue)}
}

func (f *fakeDDB) seqs(indexer string) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []uint64
	for seq := range f.partitions[indexer] {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	indexer := params.Item["indexer"].(*types.AttributeValueMemberS).Value
	seq, err := strconv.ParseUint(params.Item["seq"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}

	part := f.partitions[indexer]
	if part == nil {
		part = make(map[uint64]map[string]types.AttributeValue)
		f.partitions[indexer] = part
	}

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(seq)" {
		if _, exists := part[seq]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}

	part[seq] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	indexer := params.ExpressionAttributeValues[":indexer"].(*types.AttributeValueMemberS).Value

	var seqs []uint64
	for seq := range f.partitions[indexer] {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(seqs)-1; i < j; i, j = i+1, j-1 {
			seqs[i], seqs[j] = seqs[j], seqs[i]
		}
	}
	if params.Limit != nil && int(*params.Limit) < len(seqs) {
		seqs = seqs[:*params.Limit]
	}

	out := &dynamodb.QueryOutput{}
	for _, seq := range seqs {
		out.Items = append(out.Items, f.partitions[indexer][seq])
	}
	return out, nil
}

func (f *fakeDDB) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	indexer := params.Key["indexer"].(*types.AttributeValueMemberS).Value
	seq, err := strconv.ParseUint(params.Key["seq"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}

	delete(f.partitions[indexer], seq)
	return &dynamodb.DeleteItemOutput{}, nil
}
