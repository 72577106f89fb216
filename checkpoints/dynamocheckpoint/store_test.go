package dynamocheckpoint

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeTable evaluates the store's one condition expression against an
// in-memory table.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]int64
	err   error
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]int64)}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item[nameAttr].(*types.AttributeValueMemberS).Value
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pos, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		positionAttr: &types.AttributeValueMemberN{Value: strconv.FormatInt(pos, 10)},
	}}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.ConditionExpression) == "" {
		return nil, errors.New("unconditional put")
	}
	name := keyOf(in.Item)
	next, _ := strconv.ParseInt(in.Item[positionAttr].(*types.AttributeValueMemberN).Value, 10, 64)
	if cur, ok := f.items[name]; ok && cur > next {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[name] = next
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := &Store{Client: newFakeTable(), Table: "checkpoints"}

	if _, ok, err := s.GetLastCheckpoint(ctx, "order_views"); err != nil || ok {
		t.Fatalf("initial load: ok=%v err=%v", ok, err)
	}
	if err := s.SetLastCheckpoint(ctx, "order_views", 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	pos, ok, err := s.GetLastCheckpoint(ctx, "order_views")
	if err != nil || !ok || pos != 42 {
		t.Errorf("got %d ok=%v err=%v, want 42", pos, ok, err)
	}
}

func TestStore_IgnoresRegression(t *testing.T) {
	ctx := context.Background()
	s := &Store{Client: newFakeTable(), Table: "checkpoints"}

	for _, pos := range []int64{10, 30, 20} {
		if err := s.SetLastCheckpoint(ctx, "order_views", pos); err != nil {
			t.Fatalf("save %d: %v", pos, err)
		}
	}
	pos, _, err := s.GetLastCheckpoint(ctx, "order_views")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 30 {
		t.Errorf("position = %d, want 30", pos)
	}
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := &Store{Client: newFakeTable(), Table: "checkpoints"}

	if err := s.SetLastCheckpoint(ctx, "order_views", 9); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Reset(ctx, "order_views"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.SetLastCheckpoint(ctx, "order_views", 1); err != nil {
		t.Fatalf("save after reset: %v", err)
	}
	pos, _, err := s.GetLastCheckpoint(ctx, "order_views")
	if err != nil || pos != 1 {
		t.Errorf("got %d err=%v, want 1", pos, err)
	}
}

func TestStore_WrapsErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("throttled")
	s := &Store{Client: &fakeTable{items: map[string]int64{}, err: boom}, Table: "checkpoints"}

	if _, _, err := s.GetLastCheckpoint(ctx, "order_views"); !errors.Is(err, boom) {
		t.Errorf("load: got %v, want wrapped %v", err, boom)
	}
	if err := s.SetLastCheckpoint(ctx, "order_views", 1); !errors.Is(err, boom) {
		t.Errorf("save: got %v, want wrapped %v", err, boom)
	}
}

func TestStore_CorruptItem(t *testing.T) {
	s := &Store{Client: corruptTable{}, Table: "checkpoints"}
	if _, _, err := s.GetLastCheckpoint(context.Background(), "order_views"); err == nil {
		t.Fatal("expected error for item without a number position")
	}
}

type corruptTable struct{ *fakeTable }

func (corruptTable) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		positionAttr: &types.AttributeValueMemberS{Value: "ten"},
	}}, nil
}
