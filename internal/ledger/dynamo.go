package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/dataspace-exchange/internal/aws"
)

// DynamoLedger keeps messages in a DynamoDB table keyed by message_key.
type DynamoLedger struct {
	client    aws.DynamoDBAPI
	tableName string
	validate  *validatorv10.Validate
	nowFunc   func() time.Time
}

// NewDynamoLedger returns a ledger backed by tableName.
func NewDynamoLedger(client aws.DynamoDBAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{
		client:    client,
		tableName: tableName,
		validate:  NewValidator(),
		nowFunc:   time.Now,
	}
}

// Create stores msg only if its key is new.
func (l *DynamoLedger) Create(ctx context.Context, msg Message) (Message, error) {
	msg, err := prepare(l.validate, msg, l.nowFunc())
	if err != nil {
		return msg, err
	}
	item, err := attributevalue.MarshalMap(msg)
	if err != nil {
		return msg, fmt.Errorf("marshal message: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(message_key)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return msg, fmt.Errorf("%w: %s", ErrDuplicateMessageKey, msg.MessageKey)
		}
		return msg, fmt.Errorf("put item: %w", err)
	}
	return msg, nil
}

// Update overwrites an existing message. The stored state must be one msg.State
// may follow.
func (l *DynamoLedger) Update(ctx context.Context, msg Message) (Message, error) {
	msg, err := prepare(l.validate, msg, l.nowFunc())
	if err != nil {
		return msg, err
	}
	item, err := attributevalue.MarshalMap(msg)
	if err != nil {
		return msg, fmt.Errorf("marshal message: %w", err)
	}

	from := allowedFrom[msg.State]
	placeholders := make([]string, len(from))
	values := make(map[string]types.AttributeValue, len(from))
	for i, s := range from {
		ph := fmt.Sprintf(":from%d", i)
		placeholders[i] = ph
		values[ph] = &types.AttributeValueMemberS{Value: string(s)}
	}
	cond := "attribute_exists(message_key) AND #s IN (" + strings.Join(placeholders, ", ") + ")"

	_, err = l.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                           &l.tableName,
		Item:                                item,
		ConditionExpression:                 &cond,
		ExpressionAttributeNames:            map[string]string{"#s": "state"},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return msg, nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return msg, fmt.Errorf("%w: %s", ErrMessageNotFound, msg.MessageKey)
		}
		return msg, fmt.Errorf("%w: %s from %s to %s", ErrInvalidTransition, msg.MessageKey, storedState(ccf.Item), msg.State)
	}
	if isConditionFailed(err) {
		return msg, fmt.Errorf("%w: %s", ErrMessageNotFound, msg.MessageKey)
	}
	return msg, fmt.Errorf("put item: %w", err)
}

// Find returns the message stored under key.
func (l *DynamoLedger) Find(ctx context.Context, key Key) (Message, bool, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"message_key": &types.AttributeValueMemberS{Value: key.String()},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return Message{}, false, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return Message{}, false, nil
	}
	var m Message
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return Message{}, false, fmt.Errorf("unmarshal message: %w", err)
	}
	return m, true, nil
}

// storedState reads the state attribute of an item returned with a failed
// condition, or "unknown" when it is missing or not a string.
func storedState(item map[string]types.AttributeValue) string {
	if s, ok := item["state"].(*types.AttributeValueMemberS); ok && s.Value != "" {
		return s.Value
	}
	return "unknown"
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
