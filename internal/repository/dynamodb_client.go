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

	"github.com/tylr-r/helix/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skProfile    = "PROFILE"
)

// Attribute names on the profile item.
const (
	attrUserName          = "userName"
	attrPlatform          = "platform"
	attrCreatedAt         = "createdAt"
	attrUpdatedAt         = "updatedAt"
	attrThreadID          = "threadId"
	attrThreadLastUpdated = "threadLastUpdated"
	attrPersonality       = "personality"
	attrDossierFileID     = "dossierFileId"
	attrDossierVSFileID   = "dossierVectorStoreFileId"
	attrDossierContent    = "dossierContent"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client stores one profile item per user. Every write is an independent
// SET on its own attributes, so concurrent writers of different fields do
// not clobber each other; writers of the same field race and the last one
// wins.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

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

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefixUser + userID},
		"SK": &types.AttributeValueMemberS{Value: skProfile},
	}
}

func (c *Client) getProfile(ctx context.Context, userID string) (map[string]types.AttributeValue, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("repository: user id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// update applies "SET <sets>" to the user's profile item, creating it if needed.
func (c *Client) update(ctx context.Context, op, userID string, sets []string, values map[string]types.AttributeValue) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("repository: %s: user id is required", op)
	}
	sets = append(sets, attrUpdatedAt+" = :updatedAt")
	values[":updatedAt"] = timeValue(c.now())

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       userKey(userID),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: %s: %w", op, err)
	}
	return nil
}

// GetUser returns the stored record, or ok=false when the user is unknown.
func (c *Client) GetUser(ctx context.Context, userID string) (domain.UserRecord, bool, error) {
	item, err := c.getProfile(ctx, userID)
	if err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("repository: GetUser: %w", err)
	}
	if item == nil {
		return domain.UserRecord{}, false, nil
	}

	rec := domain.UserRecord{
		UserID:      userID,
		UserName:    optStrAttr(item, attrUserName),
		Platform:    domain.Platform(optStrAttr(item, attrPlatform)),
		Personality: optStrAttr(item, attrPersonality),
	}
	rec.Thread.ID = optStrAttr(item, attrThreadID)
	if _, ok := item[attrThreadLastUpdated]; ok {
		ts, err := timeAttr(item, attrThreadLastUpdated)
		if err != nil {
			return domain.UserRecord{}, false, fmt.Errorf("repository: GetUser decode thread timestamp: %w", err)
		}
		rec.Thread.LastUpdated = ts
	}
	return rec, true, nil
}

// SaveUserProfile records the display name and platform, stamping createdAt
// the first time the user is seen.
func (c *Client) SaveUserProfile(ctx context.Context, userID, userName string, platform domain.Platform) error {
	return c.update(ctx, "SaveUserProfile", userID,
		[]string{
			attrUserName + " = :name",
			attrPlatform + " = :platform",
			attrCreatedAt + " = if_not_exists(" + attrCreatedAt + ", :now)",
		},
		map[string]types.AttributeValue{
			":name":     &types.AttributeValueMemberS{Value: userName},
			":platform": &types.AttributeValueMemberS{Value: string(platform)},
			":now":      timeValue(c.now()),
		})
}

// UpdateThread stores the continuation handle. An empty threadID clears it.
func (c *Client) UpdateThread(ctx context.Context, userID, threadID string, at time.Time) error {
	var id types.AttributeValue = &types.AttributeValueMemberNULL{Value: true}
	if threadID != "" {
		id = &types.AttributeValueMemberS{Value: threadID}
	}
	return c.update(ctx, "UpdateThread", userID,
		[]string{
			attrThreadID + " = :tid",
			attrThreadLastUpdated + " = :ts",
		},
		map[string]types.AttributeValue{
			":tid": id,
			":ts":  timeValue(at),
		})
}

// GetPersonality returns the legacy free-text notes, empty when absent.
func (c *Client) GetPersonality(ctx context.Context, userID string) (string, error) {
	item, err := c.getProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("repository: GetPersonality: %w", err)
	}
	return optStrAttr(item, attrPersonality), nil
}

// GetDossier returns the dossier mirror and file handles.
func (c *Client) GetDossier(ctx context.Context, userID string) (domain.DossierMapping, bool, error) {
	item, err := c.getProfile(ctx, userID)
	if err != nil {
		return domain.DossierMapping{}, false, fmt.Errorf("repository: GetDossier: %w", err)
	}
	if _, ok := item[attrDossierContent]; !ok {
		return domain.DossierMapping{}, false, nil
	}
	content, err := strAttr(item, attrDossierContent)
	if err != nil {
		return domain.DossierMapping{}, false, fmt.Errorf("repository: GetDossier: %w", err)
	}
	return domain.DossierMapping{
		FileID:            optStrAttr(item, attrDossierFileID),
		VectorStoreFileID: optStrAttr(item, attrDossierVSFileID),
		Content:           content,
	}, true, nil
}

// PutDossier writes the mirror and the current file handles together.
func (c *Client) PutDossier(ctx context.Context, userID string, m domain.DossierMapping) error {
	return c.update(ctx, "PutDossier", userID,
		[]string{
			attrDossierContent + " = :content",
			attrDossierFileID + " = :fileId",
			attrDossierVSFileID + " = :vsFileId",
		},
		map[string]types.AttributeValue{
			":content":  &types.AttributeValueMemberS{Value: m.Content},
			":fileId":   &types.AttributeValueMemberS{Value: m.FileID},
			":vsFileId": &types.AttributeValueMemberS{Value: m.VectorStoreFileID},
		})
}

// timeValue stores timestamps as Unix milliseconds.
func timeValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	ms, err := int64Attr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// optStrAttr returns the string value of key, or "" when it is absent, NULL
// or not a string.
func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, err := strAttr(item, key)
	if err != nil {
		return ""
	}
	return s
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
