package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// StatusIndex is the GSI used to list entries by status, keyed on
// status with next_attempt_at as the sort key.
const StatusIndex = "StatusIndex"

// DynamoAPI is the subset of the DynamoDB client the queue uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoQueue is a Queue backed by a DynamoDB table.
type DynamoQueue struct {
	client DynamoAPI
	table  string
}

// NewDynamoQueue wraps an existing DynamoDB client.
func NewDynamoQueue(client DynamoAPI, table string) *DynamoQueue {
	return &DynamoQueue{client: client, table: table}
}

// NewDynamoQueueFromEnv builds a client from the default AWS
// configuration chain (environment, shared config, instance role).
func NewDynamoQueueFromEnv(ctx context.Context, table string) (*DynamoQueue, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewDynamoQueue(dynamodb.NewFromConfig(cfg), table), nil
}

func (q *DynamoQueue) Enqueue(ctx context.Context, e *Entry) error {
	av, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", e.ID, err)
	}
	_, err = q.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(q.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put entry %s: %w", e.ID, err)
	}
	return nil
}

func (q *DynamoQueue) Get(ctx context.Context, id string) (*Entry, error) {
	out, err := q.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(q.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrEntryNotFound
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry %s: %w", id, err)
	}
	return &e, nil
}

func (q *DynamoQueue) ListByStatus(ctx context.Context, status string, limit int) ([]*Entry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(q.table),
		IndexName:              aws.String(StatusIndex),
		KeyConditionExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	out, err := q.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query entries with status %s: %w", status, err)
	}
	var entries []*Entry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return entries, nil
}

func (q *DynamoQueue) UpdateStatus(ctx context.Context, id, status, note string) error {
	current, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateTransition(current.Status, status); err != nil {
		return err
	}
	_, err = q.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(q.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :status, note = :note, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
			":note":   &types.AttributeValueMemberS{Value: note},
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("update status of entry %s: %w", id, err)
	}
	return nil
}

func (q *DynamoQueue) RecordAttempt(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	_, err := q.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(q.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET attempts = :attempts, next_attempt_at = :next, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":attempts": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", attempts)},
			":next":     &types.AttributeValueMemberS{Value: nextAttemptAt.UTC().Format(time.RFC3339Nano)},
			":now":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("record attempt for entry %s: %w", id, err)
	}
	return nil
}

var _ Queue = (*DynamoQueue)(nil)
