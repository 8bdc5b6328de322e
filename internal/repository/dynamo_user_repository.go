package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/classroom/classroom/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const updatePasswordExpression = "SET password_digest = :digest, updated_at = :updated_at"

type DynamoUserRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewDynamoUserRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *DynamoUserRepository {
	return &DynamoUserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *DynamoUserRepository) key(email string) map[string]types.AttributeValue {
	acct := &models.Account{Email: NormalizeEmail(email)}
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: acct.GetPK()},
		"SK": &types.AttributeValueMemberS{Value: acct.GetSK()},
	}
}

func (r *DynamoUserRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(email),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var acct models.Account
	if err := attributevalue.UnmarshalMap(result.Item, &acct); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &acct, nil
}

func (r *DynamoUserRepository) Create(ctx context.Context, account *models.Account) error {
	now := r.now().UTC()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.Email = NormalizeEmail(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: account.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: account.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrDuplicateEmail
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *DynamoUserRepository) UpdatePassword(ctx context.Context, account *models.Account, digest string) error {
	updatedAt := r.now().UTC()

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(account.Email),
		UpdateExpression:    aws.String(updatePasswordExpression),
		ConditionExpression: aws.String("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":digest":     &types.AttributeValueMemberS{Value: digest},
			":updated_at": &types.AttributeValueMemberS{Value: updatedAt.Format(time.RFC3339Nano)},
			":id":         &types.AttributeValueMemberS{Value: account.ID},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrNotFound
		}
		r.logger.WithError(err).WithField("user_id", account.ID).Error("Failed to update user password in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}

	account.PasswordDigest = digest
	account.UpdatedAt = updatedAt
	return nil
}
