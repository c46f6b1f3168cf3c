package user

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/pkg/security"
	"newsbrief-backend/services/preference"
	"newsbrief-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &User{}, &preference.Preference{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node}), db
}

func TestCreate(t *testing.T) {
	svc, db := newTestService(t)

	usr, err := svc.Create(context.Background(), CreateInput{
		Email:       " Reader@Example.com ",
		DisplayName: "Reader",
		Password:    "correct horse",
	})
	require.NoError(t, err)
	require.NotEmpty(t, usr.ID)
	require.Equal(t, "reader@example.com", usr.Email)
	require.Equal(t, Active, usr.Status)
	require.Equal(t, "UTC", usr.Timezone)
	require.Equal(t, "us", usr.Locale)

	ok, err := security.VerifyArgon2("correct horse", usr.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)

	// signup seeds the default preference row in the same transaction
	var pref preference.Preference
	require.NoError(t, db.Where("id = ?", usr.ID).First(&pref).Error)
	require.Equal(t, preference.DefaultTargetWords, pref.TargetWords)
	require.Equal(t, preference.DefaultLocale, pref.Locale)
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Email: "not-an-email", Password: "long enough"})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateInput{Email: "reader@example.com", Password: "short"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}

func TestCreateDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Email: "reader@example.com", Password: "correct horse"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Email: "READER@example.com", Password: "correct horse"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Email: "reader@example.com", Password: "correct horse"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = svc.Get(ctx, "missing")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestGetByEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Email: "reader@example.com", Password: "correct horse"})
	require.NoError(t, err)

	got, err := svc.GetByEmail(ctx, "  READER@EXAMPLE.COM ")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := svc.Create(ctx, CreateInput{Email: email, Password: "correct horse"})
		require.NoError(t, err)
	}

	users, pageInfo, err := svc.List(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.True(t, pageInfo.HasMore)
	require.NotEmpty(t, pageInfo.NextCursor)

	all, pageInfo, err := svc.List(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.False(t, pageInfo.HasMore)
}

func TestSuspend(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Email: "reader@example.com", Password: "correct horse"})
	require.NoError(t, err)

	suspended, err := svc.Suspend(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, Suspended, suspended.Status)

	again, err := svc.Suspend(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, Suspended, again.Status)

	_, err = svc.Suspend(ctx, "missing")
	require.Error(t, err)
}
