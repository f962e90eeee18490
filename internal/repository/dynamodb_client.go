package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"dreamr/internal/domain"
)

const (
	pkPrefixPhone = "PHONE#"
	skPrefixConv  = "CONV#"
	ttlDuration   = 90 * 24 * time.Hour // 90 days after the last write

	// skTimeLayout is fixed width so lexical order matches time order.
	skTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores conversations in a single DynamoDB table, one partition per
// phone number and one item per conversation.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ ReadWriter = (*Client)(nil)

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// conversationItem is the stored shape of a conversation.
type conversationItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	ID          string `dynamodbav:"id"`
	PhoneNumber string `dynamodbav:"phoneNumber"`
	State       string `dynamodbav:"state"`
	ImageURL    string `dynamodbav:"imageUrl,omitempty"`
	VideoPrompt string `dynamodbav:"videoPrompt,omitempty"`
	VideoURL    string `dynamodbav:"videoUrl,omitempty"`
	OperationID string `dynamodbav:"operationId,omitempty"`
	CreatedAt   string `dynamodbav:"createdAt"`
	UpdatedAt   string `dynamodbav:"updatedAt"`
	Version     int64  `dynamodbav:"version"`
	TTL         int64  `dynamodbav:"ttl"`
}

// phonePK returns the DynamoDB partition key for a phone number.
func phonePK(phoneNumber string) string {
	return pkPrefixPhone + phoneNumber
}

// convSK orders conversations of one phone number by creation time.
func convSK(createdAt time.Time, id string) string {
	return skPrefixConv + createdAt.UTC().Format(skTimeLayout) + "#" + id
}

func keyOf(key domain.ConversationKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: phonePK(key.PhoneNumber)},
		"SK": &types.AttributeValueMemberS{Value: convSK(key.CreatedAt, key.ID)},
	}
}

// LatestByPhone returns the most recently created conversation for a number.
func (c *Client) LatestByPhone(ctx context.Context, phoneNumber string) (domain.Conversation, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: phonePK(phoneNumber)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixConv},
		},
		// Newest first; only the current conversation matters.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: LatestByPhone query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	conv, err := itemToConversation(out.Items[0])
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: LatestByPhone unmarshal: %w", err)
	}
	return conv, nil
}

// Get reads one conversation by key.
func (c *Client) Get(ctx context.Context, key domain.ConversationKey) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get unmarshal: %w", err)
	}
	return conv, nil
}

// Insert persists a new conversation at version 1.
func (c *Client) Insert(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" || conv.PhoneNumber == "" {
		return errors.New("repository: Insert: id and phone number are required")
	}
	next := *conv
	next.Version = 1
	next.UpdatedAt = c.now().UTC()

	item, err := conversationToItem(next, c.now())
	if err != nil {
		return fmt.Errorf("repository: Insert marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: Insert: %w", ErrVersionConflict)
		}
		return fmt.Errorf("repository: Insert: %w", err)
	}
	*conv = next
	return nil
}

// Update replaces the stored conversation only if its version still equals
// conv.Version. On success conv.Version is advanced.
func (c *Client) Update(ctx context.Context, conv *domain.Conversation) error {
	if !conv.State.Valid() {
		return fmt.Errorf("repository: Update: invalid state %q", conv.State)
	}
	expected := conv.Version
	next := *conv
	next.Version = expected + 1
	next.UpdatedAt = c.now().UTC()

	item, err := conversationToItem(next, c.now())
	if err != nil {
		return fmt.Errorf("repository: Update marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#v": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: Update %s: %w", conv.ID, ErrVersionConflict)
		}
		return fmt.Errorf("repository: Update %s: %w", conv.ID, err)
	}
	*conv = next
	return nil
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func conversationToItem(conv domain.Conversation, now time.Time) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(conversationItem{
		PK:          phonePK(conv.PhoneNumber),
		SK:          convSK(conv.CreatedAt, conv.ID),
		ID:          conv.ID,
		PhoneNumber: conv.PhoneNumber,
		State:       string(conv.State),
		ImageURL:    conv.ImageURL,
		VideoPrompt: conv.VideoPrompt,
		VideoURL:    conv.VideoURL,
		OperationID: conv.OperationID,
		CreatedAt:   conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Version:     conv.Version,
		TTL:         now.Add(ttlDuration).Unix(),
	})
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	var it conversationItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return domain.Conversation{}, err
	}
	if it.ID == "" {
		return domain.Conversation{}, errors.New("missing attribute \"id\"")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("parse createdAt: %w", err)
	}
	// updatedAt is informational; tolerate older items without it.
	updatedAt, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)

	return domain.Conversation{
		ID:          it.ID,
		PhoneNumber: it.PhoneNumber,
		State:       domain.State(it.State),
		ImageURL:    it.ImageURL,
		VideoPrompt: it.VideoPrompt,
		VideoURL:    it.VideoURL,
		OperationID: it.OperationID,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		Version:     it.Version,
	}, nil
}
