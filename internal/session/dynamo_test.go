package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/promptdrive/internal/model"
)

type fakeDynamo struct {
	item      map[string]types.AttributeValue
	updateErr error

	puts    []*dynamodb.PutItemInput
	updates []*dynamodb.UpdateItemInput
	deletes []*dynamodb.DeleteItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	return &dynamodb.DeleteItemOutput{}, nil
}

func marshalSession(t *testing.T, s model.BrowserSession) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		t.Fatalf("MarshalMap: %v", err)
	}
	return item
}

func TestDynamoStore_Create(t *testing.T) {
	client := &fakeDynamo{}
	s := NewDynamoStore(client, "Sessions", time.Hour)

	sess, err := s.Create(context.Background(), true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !IsDemo(sess.ID) {
		t.Errorf("Expected demo ID, got %s", sess.ID)
	}
	if len(client.puts) != 1 {
		t.Fatalf("Expected 1 PutItem, got %d", len(client.puts))
	}
	put := client.puts[0]
	if *put.TableName != "Sessions" {
		t.Errorf("Unexpected table %s", *put.TableName)
	}
	if *put.ConditionExpression != "attribute_not_exists(session_id)" {
		t.Errorf("Unexpected condition %s", *put.ConditionExpression)
	}
	if _, ok := put.Item["oauth_state"]; ok {
		t.Error("Empty oauth_state should be omitted")
	}
}

func TestDynamoStore_Get(t *testing.T) {
	now := time.Now()
	client := &fakeDynamo{item: marshalSession(t, model.BrowserSession{
		ID:                  "s1",
		EncryptedCredential: "sealed",
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Hour).Unix(),
	})}
	s := NewDynamoStore(client, "Sessions", time.Hour)

	got, err := s.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "s1" || got.EncryptedCredential != "sealed" {
		t.Errorf("Unexpected session %+v", got)
	}
}

func TestDynamoStore_Get_ExpiredOrMissing(t *testing.T) {
	now := time.Now()
	expired := &fakeDynamo{item: marshalSession(t, model.BrowserSession{
		ID:        "s1",
		ExpiresAt: now.Add(-time.Minute).Unix(),
	})}
	if _, err := NewDynamoStore(expired, "t", 0).Get(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired row, got %v", err)
	}

	missing := &fakeDynamo{}
	if _, err := NewDynamoStore(missing, "t", 0).Get(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing row, got %v", err)
	}
}

func TestDynamoStore_ConsumeState(t *testing.T) {
	client := &fakeDynamo{}
	s := NewDynamoStore(client, "t", 0)
	ctx := context.Background()

	if err := s.ConsumeState(ctx, "s1", "abc"); err != nil {
		t.Fatalf("ConsumeState failed: %v", err)
	}
	cond := *client.updates[0].ConditionExpression
	if !strings.Contains(cond, "oauth_state = :state") {
		t.Errorf("Expected state equality condition, got %s", cond)
	}

	if err := s.ConsumeState(ctx, "s1", ""); err != nil {
		t.Fatalf("ConsumeState failed: %v", err)
	}
	cond = *client.updates[1].ConditionExpression
	if !strings.Contains(cond, "attribute_exists(oauth_state)") {
		t.Errorf("Expected attribute_exists condition, got %s", cond)
	}
	if _, ok := client.updates[1].ExpressionAttributeValues[":state"]; ok {
		t.Error(":state must not be bound when it is unused")
	}
}

func TestDynamoStore_ConditionFailures(t *testing.T) {
	client := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	s := NewDynamoStore(client, "t", 0)
	ctx := context.Background()

	if err := s.ConsumeState(ctx, "s1", "abc"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("Expected ErrStateMismatch, got %v", err)
	}
	if err := s.SetState(ctx, "s1", "abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.SetCredential(ctx, "s1", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	client.updateErr = errors.New("throttled")
	if err := s.SetCredential(ctx, "s1", "x"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected wrapped backend error, got %v", err)
	}
}
