package repository

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
	"github.com/classroom/classroom/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	otpKeyCondition  = "PK = :pk"
	otpKeyBefore     = "PK = :pk AND SK < :sk"
	filterValidCode  = "CodeDigest = :digest AND ExpiresAtNano > :now"
	filterByID       = "ID = :id"
	filterExpired    = "ExpiresAtNano <= :now"
	filterExceptID   = "ID <> :id"
	consumeCondition = "attribute_exists(PK) AND ExpiresAtNano > :now"

	// BatchWriteItem accepts at most 25 requests per call.
	batchWriteLimit   = 25
	batchWriteRetries = 3
)

// otpItem is the DynamoDB shape of an OTPRecord. SK sorts by creation
// time so a descending query yields the newest record first.
type otpItem struct {
	PK            string    `dynamodbav:"PK"`
	SK            string    `dynamodbav:"SK"`
	ID            string    `dynamodbav:"ID"`
	Email         string    `dynamodbav:"Email"`
	CodeDigest    string    `dynamodbav:"CodeDigest"`
	CreatedAt     time.Time `dynamodbav:"CreatedAt"`
	ExpiresAt     time.Time `dynamodbav:"ExpiresAt"`
	ExpiresAtNano int64     `dynamodbav:"ExpiresAtNano"`
	TTL           int64     `dynamodbav:"TTL"`
}

func (it otpItem) record() *models.OTPRecord {
	return &models.OTPRecord{
		ID:         it.ID,
		Email:      it.Email,
		CodeDigest: it.CodeDigest,
		CreatedAt:  it.CreatedAt,
		ExpiresAt:  it.ExpiresAt,
	}
}

func otpPK(email string) string {
	return "OTP#" + NormalizeEmail(email)
}

func otpSK(createdAt time.Time, id string) string {
	return fmt.Sprintf("%020d#%s", createdAt.UnixNano(), id)
}

type DynamoOTPRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoOTPRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *DynamoOTPRepository {
	return &DynamoOTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Create stores the record with a TTL so DynamoDB eventually drops it even
// if cleanup never runs.
func (r *DynamoOTPRepository) Create(ctx context.Context, rec *models.OTPRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Email = NormalizeEmail(rec.Email)

	item, err := attributevalue.MarshalMap(otpItem{
		PK:            otpPK(rec.Email),
		SK:            otpSK(rec.CreatedAt, rec.ID),
		ID:            rec.ID,
		Email:         rec.Email,
		CodeDigest:    rec.CodeDigest,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		ExpiresAtNano: rec.ExpiresAt.UnixNano(),
		TTL:           rec.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal OTP: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *DynamoOTPRepository) FindLatest(ctx context.Context, email string) (*models.OTPRecord, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String(otpKeyCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: otpPK(email)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest OTP: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var it otpItem
	if err := attributevalue.UnmarshalMap(result.Items[0], &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return it.record(), nil
}

func (r *DynamoOTPRepository) FindLatestValid(ctx context.Context, email, digest string, now time.Time) (*models.OTPRecord, error) {
	items, err := r.query(ctx, email, otpKeyCondition, filterValidCode, map[string]types.AttributeValue{
		":digest": &types.AttributeValueMemberS{Value: digest},
		":now":    nanoValue(now),
	}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to find valid OTP: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0].record(), nil
}

// Consume is a conditional delete: the expiry check and the removal happen
// in one DynamoDB write, so only one caller observes success.
func (r *DynamoOTPRepository) Consume(ctx context.Context, email, id string, now time.Time) (bool, error) {
	it, err := r.locate(ctx, email, id)
	if err != nil {
		return false, err
	}
	if it == nil {
		return false, nil
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(it.PK, it.SK),
		ConditionExpression: aws.String(consumeCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": nanoValue(now),
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		r.logger.WithError(err).WithField("otp_id", id).Error("Failed to consume OTP in DynamoDB")
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}

	return true, nil
}

func (r *DynamoOTPRepository) DeleteByID(ctx context.Context, email, id string) error {
	it, err := r.locate(ctx, email, id)
	if err != nil {
		return err
	}
	if it == nil {
		return ErrNotFound
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(it.PK, it.SK),
	})
	if err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}

	return nil
}

func (r *DynamoOTPRepository) DeleteExpired(ctx context.Context, email string, now time.Time) (int64, error) {
	items, err := r.query(ctx, email, otpKeyCondition, filterExpired, map[string]types.AttributeValue{
		":now": nanoValue(now),
	}, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired OTPs: %w", err)
	}
	return r.batchDelete(ctx, items)
}

// DeleteIssuedBefore narrows the partition with an SK range: every SK
// created before the cutoff sorts below its zero-padded nanosecond prefix.
func (r *DynamoOTPRepository) DeleteIssuedBefore(ctx context.Context, email string, before time.Time, keepID string) (int64, error) {
	items, err := r.query(ctx, email, otpKeyBefore, filterExceptID, map[string]types.AttributeValue{
		":sk": &types.AttributeValueMemberS{Value: fmt.Sprintf("%020d", before.UnixNano())},
		":id": &types.AttributeValueMemberS{Value: keepID},
	}, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list OTPs: %w", err)
	}
	return r.batchDelete(ctx, items)
}

func (r *DynamoOTPRepository) locate(ctx context.Context, email, id string) (*otpItem, error) {
	items, err := r.query(ctx, email, otpKeyCondition, filterByID, map[string]types.AttributeValue{
		":id": &types.AttributeValueMemberS{Value: id},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to locate OTP: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// query walks every page matching keyCond in the email's partition, newest
// first, applying filter. With firstOnly it stops at the first page that
// yields a match.
func (r *DynamoOTPRepository) query(ctx context.Context, email, keyCond, filter string, values map[string]types.AttributeValue, firstOnly bool) ([]otpItem, error) {
	values[":pk"] = &types.AttributeValueMemberS{Value: otpPK(email)}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
	})

	var items []otpItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		var batch []otpItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OTPs: %w", err)
		}
		items = append(items, batch...)

		if firstOnly && len(items) > 0 {
			break
		}
	}

	return items, nil
}

func (r *DynamoOTPRepository) batchDelete(ctx context.Context, items []otpItem) (int64, error) {
	var deleted int64
	for start := 0; start < len(items); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, it := range items[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: itemKey(it.PK, it.SK)},
			})
		}

		pending := map[string][]types.WriteRequest{r.tableName: requests}
		for attempt := 0; len(pending[r.tableName]) > 0; attempt++ {
			if attempt == batchWriteRetries {
				return deleted, fmt.Errorf("failed to delete OTPs: %d requests left unprocessed", len(pending[r.tableName]))
			}

			sent := len(pending[r.tableName])
			out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return deleted, fmt.Errorf("failed to delete OTPs: %w", err)
			}

			pending = out.UnprocessedItems
			if pending == nil {
				pending = map[string][]types.WriteRequest{}
			}
			deleted += int64(sent - len(pending[r.tableName]))
		}
	}

	return deleted, nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func nanoValue(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixNano(), 10)}
}
