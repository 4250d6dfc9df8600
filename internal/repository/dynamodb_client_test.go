package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/tylr-r/helix/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	updateErr    error
	lastGetInput *dynamodb.GetItemInput
	updateInputs []*dynamodb.UpdateItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, in)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) lastUpdate(t *testing.T) *dynamodb.UpdateItemInput {
	t.Helper()
	require.NotEmpty(t, f.updateInputs)
	return f.updateInputs[len(f.updateInputs)-1]
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestGetUser_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":                s("USER#u1"),
		"SK":                s(skProfile),
		"userName":          s("Ada"),
		"platform":          s("messenger"),
		"threadId":          s("resp_9"),
		"threadLastUpdated": n("1741944413000"),
		"personality":       s("likes tea"),
	}}}
	c := mustNewClient(t, db)

	rec, ok, err := c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Ada", rec.UserName)
	require.Equal(t, domain.PlatformMessenger, rec.Platform)
	require.Equal(t, "resp_9", rec.Thread.ID)
	require.Equal(t, fixedNow, rec.Thread.LastUpdated)
	require.Equal(t, "likes tea", rec.Personality)

	require.Equal(t, s("USER#u1"), db.lastGetInput.Key["PK"])
	require.Equal(t, s("PROFILE"), db.lastGetInput.Key["SK"])
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetUser_NullThread(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"userName": s("Ada"),
		"threadId": &types.AttributeValueMemberNULL{Value: true},
	}}}
	c := mustNewClient(t, db)

	rec, ok, err := c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, rec.Thread.ID)
	require.True(t, rec.Thread.LastUpdated.IsZero())
}

func TestGetUser_Missing(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, ok, err := c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetUser_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := c.GetUser(context.Background(), "u1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetUser")

	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"threadLastUpdated": s("yesterday"),
	}}})
	_, _, err = c.GetUser(context.Background(), "u1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "thread timestamp")

	_, _, err = c.GetUser(context.Background(), " ")
	require.Error(t, err)
}

func TestSaveUserProfile(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.SaveUserProfile(context.Background(), "u1", "Ada", domain.PlatformInstagram))
	in := db.lastUpdate(t)
	require.Equal(t, "test-table", *in.TableName)
	require.Equal(t, s("USER#u1"), in.Key["PK"])
	require.Equal(t,
		"SET userName = :name, platform = :platform, createdAt = if_not_exists(createdAt, :now), updatedAt = :updatedAt",
		*in.UpdateExpression)
	require.Equal(t, s("Ada"), in.ExpressionAttributeValues[":name"])
	require.Equal(t, s("instagram"), in.ExpressionAttributeValues[":platform"])
	require.Equal(t, n("1741944413000"), in.ExpressionAttributeValues[":now"])
}

func TestUpdateThread(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.UpdateThread(context.Background(), "u1", "resp_2", fixedNow))
	in := db.lastUpdate(t)
	require.Equal(t, "SET threadId = :tid, threadLastUpdated = :ts, updatedAt = :updatedAt", *in.UpdateExpression)
	require.Equal(t, s("resp_2"), in.ExpressionAttributeValues[":tid"])

	require.NoError(t, c.UpdateThread(context.Background(), "u1", "", fixedNow))
	in = db.lastUpdate(t)
	require.Equal(t, &types.AttributeValueMemberNULL{Value: true}, in.ExpressionAttributeValues[":tid"])
}

func TestUpdateThread_Error(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{updateErr: errors.New("throttled")})
	err := c.UpdateThread(context.Background(), "u1", "resp_2", fixedNow)
	require.Error(t, err)
	require.Contains(t, err.Error(), "UpdateThread")
	require.Contains(t, err.Error(), "throttled")
}

func TestPersonality(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"personality": s("curious"),
	}}}
	c := mustNewClient(t, db)

	p, err := c.GetPersonality(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "curious", p)

	db.getOut = &dynamodb.GetItemOutput{}
	p, err = c.GetPersonality(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, p)
}

func TestDossier_RoundTripShape(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	m := domain.DossierMapping{FileID: "file_1", VectorStoreFileID: "vsf_1", Content: "# Dossier"}
	require.NoError(t, c.PutDossier(context.Background(), "u1", m))
	in := db.lastUpdate(t)
	require.Equal(t,
		"SET dossierContent = :content, dossierFileId = :fileId, dossierVectorStoreFileId = :vsFileId, updatedAt = :updatedAt",
		*in.UpdateExpression)

	db.getOut = &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"dossierContent":           in.ExpressionAttributeValues[":content"],
		"dossierFileId":            in.ExpressionAttributeValues[":fileId"],
		"dossierVectorStoreFileId": in.ExpressionAttributeValues[":vsFileId"],
	}}
	got, ok, err := c.GetDossier(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m, got)
}

func TestGetDossier_Absent(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"userName": s("Ada"),
	}}})
	_, ok, err := c.GetDossier(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetDossier_WrongType(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"dossierContent": n("1"),
	}}})
	_, _, err := c.GetDossier(context.Background(), "u1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a string")
}

func TestInt64Attr(t *testing.T) {
	item := map[string]types.AttributeValue{"a": n("42"), "b": s("42"), "c": n("x")}
	v, err := int64Attr(item, "a")
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	_, err = int64Attr(item, "b")
	require.Error(t, err)
	_, err = int64Attr(item, "c")
	require.Error(t, err)
	_, err = int64Attr(item, "missing")
	require.Error(t, err)
}
