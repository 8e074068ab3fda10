package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a small in-memory table keyed by message_key. It understands
// just the condition expressions the ledger issues.
type simpleMock struct {
	mu       sync.Mutex
	table    map[string]map[string]types.AttributeValue
	putCalls int
	getCalls int
	failWith error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{table: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) (string, error) {
	attr, ok := item["message_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing message_key")
	}
	return attr.Value, nil
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	existing, exists := m.table[k]

	cond := ""
	if params.ConditionExpression != nil {
		cond = *params.ConditionExpression
	}
	switch {
	case strings.Contains(cond, "attribute_not_exists(message_key)"):
		if exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	case strings.Contains(cond, "attribute_exists(message_key)"):
		if !exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
		current := existing["state"].(*types.AttributeValueMemberS).Value
		allowed := false
		for ph, v := range params.ExpressionAttributeValues {
			if strings.HasPrefix(ph, ":from") && v.(*types.AttributeValueMemberS).Value == current {
				allowed = true
			}
		}
		if !allowed {
			return nil, &types.ConditionalCheckFailedException{Item: existing}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}
