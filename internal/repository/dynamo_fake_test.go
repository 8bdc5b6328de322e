package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is a single-table in-memory stand-in that understands the
// expressions the repositories issue.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	err              error
	unprocessedFirst bool
	batchCalls       int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrN(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func fakeKey(item map[string]types.AttributeValue) string {
	return attrS(item, "PK") + "|" + attrS(item, "SK")
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[fakeKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := fakeKey(in.Item)
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(PK)" {
		if _, exists := f.items[key]; exists {
			return nil, conditionFailed()
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.UpdateExpression) != updatePasswordExpression {
		return nil, fmt.Errorf("fake: unsupported update %q", aws.ToString(in.UpdateExpression))
	}
	item, ok := f.items[fakeKey(in.Key)]
	if !ok || attrS(item, "id") != attrS(in.ExpressionAttributeValues, ":id") {
		return nil, conditionFailed()
	}
	item["password_digest"] = in.ExpressionAttributeValues[":digest"]
	item["updated_at"] = in.ExpressionAttributeValues[":updated_at"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := fakeKey(in.Key)
	item, exists := f.items[key]
	if aws.ToString(in.ConditionExpression) == consumeCondition {
		if !exists || attrN(item, "ExpiresAtNano") <= attrN(in.ExpressionAttributeValues, ":now") {
			return nil, conditionFailed()
		}
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	values := in.ExpressionAttributeValues
	pk := attrS(values, ":pk")

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if attrS(item, "PK") != pk {
			continue
		}
		switch cond := aws.ToString(in.KeyConditionExpression); cond {
		case otpKeyCondition:
		case otpKeyBefore:
			if attrS(item, "SK") >= attrS(values, ":sk") {
				continue
			}
		default:
			panic("fake: unsupported key condition " + cond)
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		return attrS(matched[i], "SK") < attrS(matched[j], "SK")
	})
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}

	var out []map[string]types.AttributeValue
	for _, item := range matched {
		if f.filter(aws.ToString(in.FilterExpression), item, values) {
			out = append(out, item)
		}
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *fakeDynamo) filter(expr string, item, values map[string]types.AttributeValue) bool {
	switch expr {
	case "":
		return true
	case filterValidCode:
		return attrS(item, "CodeDigest") == attrS(values, ":digest") &&
			attrN(item, "ExpiresAtNano") > attrN(values, ":now")
	case filterByID:
		return attrS(item, "ID") == attrS(values, ":id")
	case filterExceptID:
		return attrS(item, "ID") != attrS(values, ":id")
	case filterExpired:
		return attrN(item, "ExpiresAtNano") <= attrN(values, ":now")
	default:
		panic("fake: unsupported filter " + expr)
	}
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batchCalls++

	unprocessed := map[string][]types.WriteRequest{}
	for table, requests := range in.RequestItems {
		for i, req := range requests {
			if f.unprocessedFirst && i == len(requests)-1 {
				f.unprocessedFirst = false
				unprocessed[table] = append(unprocessed[table], req)
				continue
			}
			delete(f.items, fakeKey(req.DeleteRequest.Key))
		}
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}

func (f *fakeDynamo) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if len(attrS(item, "PK")) >= len(prefix) && attrS(item, "PK")[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
