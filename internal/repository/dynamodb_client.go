package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"manual-tutor/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skState     = "STATE#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	statusComplete = "complete"

	// msgSKLayout is fixed width so sort keys order lexically by time.
	msgSKLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding session state and transcripts.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK returns the sort key for a transcript turn at ts.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(msgSKLayout)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetSession loads the session state. The boolean is false when no state
// has been stored yet.
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{ID: sessionID}, false, nil
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	s.ID = sessionID
	return s, true, nil
}

// SaveSession writes the session state unconditionally.
func (c *Client) SaveSession(ctx context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: SaveSession: session ID is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      sessionItem(s),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSession: %w", err)
	}
	return nil
}

// CompleteSetup stores a session whose setup has just finished. It fails with
// domain.ErrSetupComplete if a stored state already carries the setup flag.
func (c *Client) CompleteSetup(ctx context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: CompleteSetup: session ID is required")
	}
	s.SetupComplete = true
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                sessionItem(s),
		ConditionExpression: aws.String("attribute_not_exists(setupComplete) OR setupComplete = :false"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return domain.ErrSetupComplete
		}
		return fmt.Errorf("repository: CompleteSetup: %w", err)
	}
	return nil
}

// GetHistory queries the newest transcript turns and returns them chronologically.
func (c *Client) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent turns.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		msg.SessionID = sessionID
		msgs = append(msgs, msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SaveCompletedTurn writes the answered turn and bumps the session turn count
// in one transaction.
func (c *Client) SaveCompletedTurn(ctx context.Context, sessionID, question, answer, runID string, turns int) error {
	msg := NewMessage(sessionID, question, runID, statusComplete)
	msg.Answer = answer

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
						"SK": &types.AttributeValueMemberS{Value: skState},
					},
					UpdateExpression:    aws.String("SET turns = :turns, updatedAt = :now, #ttl = :ttl"),
					ConditionExpression: aws.String("attribute_exists(PK)"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":turns": &types.AttributeValueMemberN{Value: strconv.Itoa(turns)},
						":now":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
						":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// NewMessage constructs a Message with PK/SK/TTL set from sessionID and current time.
func NewMessage(sessionID, question, runID, status string) domain.Message {
	now := time.Now().UTC()
	return domain.Message{
		PK:        sessionPK(sessionID),
		SK:        msgSK(now),
		SessionID: sessionID,
		Question:  question,
		RunID:     runID,
		Status:    status,
		TTL:       ttlValue(),
	}
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	docs := make([]types.AttributeValue, 0, len(s.Documents))
	for _, d := range s.Documents {
		docs = append(docs, &types.AttributeValueMemberS{Value: d})
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":            &types.AttributeValueMemberS{Value: skState},
		"sessionId":     &types.AttributeValueMemberS{Value: s.ID},
		"vectorStoreId": &types.AttributeValueMemberS{Value: s.VectorStoreID},
		"assistantId":   &types.AttributeValueMemberS{Value: s.AssistantID},
		"threadId":      &types.AttributeValueMemberS{Value: s.ThreadID},
		"setupComplete": &types.AttributeValueMemberBOOL{Value: s.SetupComplete},
		"documents":     &types.AttributeValueMemberL{Value: docs},
		"turns":         &types.AttributeValueMemberN{Value: strconv.Itoa(s.Turns)},
		"updatedAt":     &types.AttributeValueMemberS{Value: updated.UTC().Format(time.RFC3339)},
		"ttl":           &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	var s domain.Session
	var err error
	if s.VectorStoreID, err = strAttr(item, "vectorStoreId"); err != nil {
		return domain.Session{}, err
	}
	if s.AssistantID, err = strAttr(item, "assistantId"); err != nil {
		return domain.Session{}, err
	}
	s.ThreadID, _ = strAttr(item, "threadId") // allow empty

	if v, ok := item["setupComplete"].(*types.AttributeValueMemberBOOL); ok {
		s.SetupComplete = v.Value
	}
	if l, ok := item["documents"].(*types.AttributeValueMemberL); ok {
		for _, d := range l.Value {
			if sv, ok := d.(*types.AttributeValueMemberS); ok {
				s.Documents = append(s.Documents, sv.Value)
			}
		}
	}
	if _, ok := item["turns"]; ok {
		if s.Turns, err = intAttr(item, "turns"); err != nil {
			return domain.Session{}, err
		}
	}
	if ts, err := strAttr(item, "updatedAt"); err == nil {
		s.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return s, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Message{}, err
	}
	answer, _ := strAttr(item, "answer") // allow empty
	runID, _ := strAttr(item, "runId")
	status, _ := strAttr(item, "status")

	return domain.Message{
		PK:       pk,
		SK:       sk,
		Question: question,
		Answer:   answer,
		RunID:    runID,
		Status:   status,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: msg.PK},
		"SK":        &types.AttributeValueMemberS{Value: msg.SK},
		"sessionId": &types.AttributeValueMemberS{Value: msg.SessionID},
		"question":  &types.AttributeValueMemberS{Value: msg.Question},
		"answer":    &types.AttributeValueMemberS{Value: msg.Answer},
		"runId":     &types.AttributeValueMemberS{Value: msg.RunID},
		"status":    &types.AttributeValueMemberS{Value: msg.Status},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.TTL, 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
