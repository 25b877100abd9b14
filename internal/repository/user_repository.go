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
	"github.com/qcom/librarian/internal/models"
	"github.com/sirupsen/logrus"
)

const loginPrefix = "LOGIN#"

// DynamoUserRepository keeps one USER# item per account plus one LOGIN#
// item per user name and email pointing back at it. The LOGIN# items make
// both identifiers unique and let a login resolve without a scan.
type DynamoUserRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewDynamoUserRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *DynamoUserRepository {
	return &DynamoUserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *DynamoUserRepository) key(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

func (r *DynamoUserRepository) loginItem(value, userID string) *types.Put {
	item := r.key(loginPrefix + loginKey(value))
	item["UserID"] = &types.AttributeValueMemberS{Value: userID}
	return &types.Put{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}
}

func (r *DynamoUserRepository) userItem(user *models.User, condition string) (*types.Put, error) {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	return &types.Put{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String(condition),
	}, nil
}

func (r *DynamoUserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	put, err := r.userItem(user, "attribute_not_exists(PK)")
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{
		{Put: put},
		{Put: r.loginItem(user.UserName, user.ID)},
	}
	if loginKey(user.Email) != loginKey(user.UserName) {
		items = append(items, types.TransactWriteItem{Put: r.loginItem(user.Email, user.ID)})
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *DynamoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key((&models.User{ID: id}).GetPK()),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, ErrUserNotFound
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

func (r *DynamoUserRepository) GetByLogin(ctx context.Context, userNameOrEmail string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(loginPrefix + loginKey(userNameOrEmail)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get login: %w", err)
	}

	if result.Item == nil {
		return nil, ErrUserNotFound
	}

	userID, ok := result.Item["UserID"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("login item for %q has no user id", userNameOrEmail)
	}

	return r.GetByID(ctx, userID.Value)
}

// Update rewrites the user item and moves the LOGIN# items when the user
// name or email changed.
func (r *DynamoUserRepository) Update(ctx context.Context, user *models.User) error {
	current, err := r.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}

	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now()

	put, err := r.userItem(user, "attribute_exists(PK)")
	if err != nil {
		return err
	}
	items := []types.TransactWriteItem{{Put: put}}

	oldKeys := map[string]bool{loginKey(current.UserName): true, loginKey(current.Email): true}
	newKeys := map[string]bool{loginKey(user.UserName): true, loginKey(user.Email): true}

	for k := range oldKeys {
		if !newKeys[k] {
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(r.tableName),
				Key:       r.key(loginPrefix + k),
			}})
		}
	}
	for k := range newKeys {
		if !oldKeys[k] {
			items = append(items, types.TransactWriteItem{Put: r.loginItem(k, user.ID)})
		}
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

func (r *DynamoUserRepository) List(ctx context.Context) ([]models.User, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: "USER#"},
			":sk":        &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})

	var users []models.User
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan users: %w", err)
		}

		var batch []models.User
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal users: %w", err)
		}
		users = append(users, batch...)
	}

	return users, nil
}

func isConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	var failed *types.ConditionalCheckFailedException
	return errors.As(err, &failed)
}

// EnsureTable creates the table with a PK/SK key schema when it is missing
// and waits for it to become active.
func (r *DynamoUserRepository) EnsureTable(ctx context.Context) error {
	describe := &dynamodb.DescribeTableInput{TableName: aws.String(r.tableName)}

	_, err := r.client.DescribeTable(ctx, describe)
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", r.tableName, err)
	}

	_, err = r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", r.tableName, err)
	}

	r.logger.WithField("table", r.tableName).Info("Created DynamoDB table")
	return dynamodb.NewTableExistsWaiter(r.client).Wait(ctx, describe, time.Minute)
}
