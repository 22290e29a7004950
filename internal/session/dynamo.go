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
	"github.com/google/uuid"
	"github.com/jun/promptdrive/internal/model"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps sessions in DynamoDB. The table is keyed by session_id
// and uses expires_at as its TTL attribute; expired rows that DynamoDB has
// not swept yet are treated as absent.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoStore creates a new DynamoStore.
func NewDynamoStore(client DynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *DynamoStore) key(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: sessionID},
	}
}

func (s *DynamoStore) nowValue() types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)}
}

// Create inserts a fresh session row.
func (s *DynamoStore) Create(ctx context.Context, demo bool) (*model.BrowserSession, error) {
	now := s.now()
	id := uuid.New().String()
	if demo {
		id = DemoPrefix + id
	}
	sess := model.BrowserSession{
		ID:        id,
		Demo:      demo,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(session_id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &sess, nil
}

// Get retrieves a live session.
func (s *DynamoStore) Get(ctx context.Context, sessionID string) (*model.BrowserSession, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var sess model.BrowserSession
	if err := attributevalue.UnmarshalMap(out.Item, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// SetState records the pending OAuth state on a live session.
func (s *DynamoStore) SetState(ctx context.Context, sessionID, state string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(sessionID),
		UpdateExpression:    aws.String("SET oauth_state = :state"),
		ConditionExpression: aws.String("attribute_exists(session_id) AND expires_at > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state": &types.AttributeValueMemberS{Value: state},
			":now":   s.nowValue(),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to set oauth state: %w", err)
	}
	return nil
}

// ConsumeState removes the pending state if it matches.
func (s *DynamoStore) ConsumeState(ctx context.Context, sessionID, state string) error {
	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.key(sessionID),
		UpdateExpression: aws.String("REMOVE oauth_state"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": s.nowValue(),
		},
	}
	if state == "" {
		input.ConditionExpression = aws.String("attribute_exists(oauth_state) AND expires_at > :now")
	} else {
		input.ConditionExpression = aws.String("oauth_state = :state AND expires_at > :now")
		input.ExpressionAttributeValues[":state"] = &types.AttributeValueMemberS{Value: state}
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return nil
}

// SetCredential stores the encrypted credential on a live session.
func (s *DynamoStore) SetCredential(ctx context.Context, sessionID, encrypted string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(sessionID),
		UpdateExpression:    aws.String("SET encrypted_credential = :cred"),
		ConditionExpression: aws.String("attribute_exists(session_id) AND expires_at > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cred": &types.AttributeValueMemberS{Value: encrypted},
			":now":  s.nowValue(),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Delete removes the session row.
func (s *DynamoStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(sessionID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
