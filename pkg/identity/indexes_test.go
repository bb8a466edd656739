package identity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListIndexTypes(t *testing.T) {
	svc, _ := newTestService()

	types := svc.ListIndexTypes()
	assert.Contains(t, types, "id")
	assert.Contains(t, types, "email")
	assert.Contains(t, types, "phone")
}

func TestCreateIndexUndefinedTypeNeverMutates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)
	before := len(user.Indexes)

	_, err = svc.CreateOrReplaceIndex(ctx, user.ID, "passport", "X123", nil)
	assert.ErrorIs(t, err, ErrUndefinedIndexType)

	loaded, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Indexes, before)
}

func TestCreateIndexReplacesSameType(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)

	_, err = svc.CreateOrReplaceIndex(ctx, user.ID, "email", "a@example.com", nil)
	require.NoError(t, err)

	indexes, err := svc.CreateOrReplaceIndex(ctx, user.ID, "email", "b@example.com", json.RawMessage(`{"verified":true}`))
	require.NoError(t, err)

	var emails []UserIndex
	for _, idx := range indexes {
		if idx.TypeID == "email" {
			emails = append(emails, idx)
		}
	}
	require.Len(t, emails, 1)
	assert.Equal(t, "b@example.com", emails[0].Value)
	assert.Equal(t, "email address", emails[0].Description)
	assert.JSONEq(t, `{"verified":true}`, string(emails[0].Extension))
}

func TestDeleteIndexIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)

	_, err = svc.CreateOrReplaceIndex(ctx, user.ID, "email", "a@example.com", nil)
	require.NoError(t, err)

	first, err := svc.DeleteIndex(ctx, user.ID, "email")
	require.NoError(t, err)

	second, err := svc.DeleteIndex(ctx, user.ID, "email")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for _, idx := range second {
		assert.NotEqual(t, "email", idx.TypeID)
	}
}

func TestLookupByIndex(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)

	_, err = svc.CreateOrReplaceIndex(ctx, user.ID, "email", "a@example.com", nil)
	require.NoError(t, err)

	matches, err := svc.LookupByIndex(ctx, "email", "a@example.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, user.ID, matches[0].ID)

	empty, err := svc.LookupByIndex(ctx, "email", "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
