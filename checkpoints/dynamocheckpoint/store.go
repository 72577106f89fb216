// Package dynamocheckpoint stores projection checkpoints in a DynamoDB table
// keyed by projection name.
package dynamocheckpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ripkitten-co/purr/projections"
)

const (
	nameAttr     = "Projection"
	positionAttr = "Position"
)

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Store keeps one item per projection in Table, keyed by projection name.
type Store struct {
	// Client is the DynamoDB client to use.
	Client API

	// Table is the table holding one item per projection.
	Table string
}

var _ projections.CheckpointStore = (*Store)(nil)

func (s *Store) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		nameAttr: &types.AttributeValueMemberS{Value: name},
	}
}

// GetLastCheckpoint reads the position with a strongly consistent read.
func (s *Store) GetLastCheckpoint(ctx context.Context, name string) (int64, bool, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.Table),
		Key:                  s.key(name),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("#P"),
		ExpressionAttributeNames: map[string]string{
			"#P": positionAttr,
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: load: %w", name, err)
	}
	if out.Item == nil {
		return 0, false, nil
	}

	attr, ok := out.Item[positionAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, fmt.Errorf("checkpoint %s: item is corrupt: missing %q number attribute", name, positionAttr)
	}
	pos, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: item is corrupt: %w", name, err)
	}
	return pos, true, nil
}

// SetLastCheckpoint writes pos with a condition that rejects a lower value.
// A rejected write is a regression and is not an error.
func (s *Store) SetLastCheckpoint(ctx context.Context, name string, pos int64) error {
	item := s.key(name)
	item[positionAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(pos, 10)}

	_, err := s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.Table),
		Item:                item,
		ConditionExpression: aws.String(`attribute_not_exists(#N) OR #P <= :P`),
		ExpressionAttributeNames: map[string]string{
			"#N": nameAttr,
			"#P": positionAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":P": item[positionAttr],
		},
	})
	if errors.As(err, new(*types.ConditionalCheckFailedException)) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", name, err)
	}
	return nil
}

// Reset removes the checkpoint so the projection replays from the beginning.
func (s *Store) Reset(ctx context.Context, name string) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.Table),
		Key:       s.key(name),
	})
	if err != nil {
		return fmt.Errorf("checkpoint %s: reset: %w", name, err)
	}
	return nil
}

// CreateTable creates the checkpoint table with on-demand billing.
func CreateTable(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(nameAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(nameAttr), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if errors.As(err, new(*types.ResourceInUseException)) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkpoints: create table %s: %w", table, err)
	}
	return nil
}
