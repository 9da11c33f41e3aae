package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/filedepot/filedepot/internal/models"
)

// DynamoStore is the multi-node Store implementation on DynamoDB.
//
// The chunk set is a DynamoDB number set mutated with an ADD update
// expression, so concurrent acknowledgements from different nodes merge
// instead of overwriting each other. Reads use ConsistentRead, which is
// what lets a finalizer trust the count it sees. Items also carry an
// epoch-seconds ttl attribute for DynamoDB's native expiry as a backstop
// behind the sweeper.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoStore creates a DynamoStore on the given table. The table's
// partition key must be upload_id (string).
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

var _ Store = (*DynamoStore)(nil)

// dynamoSession is the marshaled item shape, chunk set excluded (number
// sets are managed through update expressions, not whole-item writes).
type dynamoSession struct {
	UploadID    string `dynamodbav:"upload_id"`
	FileID      string `dynamodbav:"file_id"`
	FileName    string `dynamodbav:"file_name"`
	TotalSize   int64  `dynamodbav:"total_size"`
	ChunkSize   int64  `dynamodbav:"chunk_size"`
	TotalChunks int    `dynamodbav:"total_chunks"`
	Scope       string `dynamodbav:"scope"`
	CreatedAt   int64  `dynamodbav:"created_at"`
	ExpiresAt   int64  `dynamodbav:"expires_at"`
	TTL         int64  `dynamodbav:"ttl"`
}

// Create stores a new session item, failing if the upload ID is taken.
func (d *DynamoStore) Create(ctx context.Context, s *models.UploadSession, ttl time.Duration) error {
	item, err := attributevalue.MarshalMap(dynamoSession{
		UploadID:    s.UploadID,
		FileID:      s.FileID,
		FileName:    s.FileName,
		TotalSize:   s.TotalSize,
		ChunkSize:   s.ChunkSize,
		TotalChunks: s.TotalChunks,
		Scope:       s.Scope,
		CreatedAt:   s.CreatedAt.Unix(),
		ExpiresAt:   s.ExpiresAt.Unix(),
		TTL:         time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(upload_id)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return fmt.Errorf("session %s already exists", s.UploadID)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get fetches a session with a strongly consistent read.
func (d *DynamoStore) Get(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"upload_id": &types.AttributeValueMemberS{Value: uploadID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if out.Item == nil {
		return nil, ErrNotFound
	}

	return unmarshalSession(out.Item)
}

// AddChunk adds a chunk number to the item's number set and returns the
// resulting count from the same update's ALL_NEW view.
func (d *DynamoStore) AddChunk(ctx context.Context, uploadID string, chunkNumber int) (int, error) {
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"upload_id": &types.AttributeValueMemberS{Value: uploadID},
		},
		UpdateExpression:    aws.String("ADD uploaded_chunks :n"),
		ConditionExpression: aws.String("attribute_exists(upload_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberNS{Value: []string{strconv.Itoa(chunkNumber)}},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to add chunk: %w", err)
	}

	set, ok := out.Attributes["uploaded_chunks"].(*types.AttributeValueMemberNS)
	if !ok {
		return 0, fmt.Errorf("uploaded_chunks attribute has unexpected type")
	}

	return len(set.Value), nil
}

// Delete removes the session item.
func (d *DynamoStore) Delete(ctx context.Context, uploadID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"upload_id": &types.AttributeValueMemberS{Value: uploadID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// Expired scans for sessions past their ExpiresAt. A scan is acceptable
// here: the sweeper runs on a long interval and the table only holds
// in-flight uploads.
func (d *DynamoStore) Expired(ctx context.Context, now time.Time) ([]models.UploadSession, error) {
	var sessions []models.UploadSession

	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired sessions: %w", err)
		}

		for _, item := range page.Items {
			s, err := unmarshalSession(item)
			if err != nil {
				return nil, err
			}
			sessions = append(sessions, *s)
		}
	}

	return sessions, nil
}

func unmarshalSession(item map[string]types.AttributeValue) (*models.UploadSession, error) {
	var rec dynamoSession
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	s := &models.UploadSession{
		UploadID:       rec.UploadID,
		FileID:         rec.FileID,
		FileName:       rec.FileName,
		TotalSize:      rec.TotalSize,
		ChunkSize:      rec.ChunkSize,
		TotalChunks:    rec.TotalChunks,
		Scope:          rec.Scope,
		CreatedAt:      time.Unix(rec.CreatedAt, 0).UTC(),
		ExpiresAt:      time.Unix(rec.ExpiresAt, 0).UTC(),
		UploadedChunks: models.NewChunkSet(),
	}

	if set, ok := item["uploaded_chunks"].(*types.AttributeValueMemberNS); ok {
		for _, v := range set.Value {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid chunk number %q in session %s", v, rec.UploadID)
			}
			s.UploadedChunks[n] = struct{}{}
		}
	}

	return s, nil
}
