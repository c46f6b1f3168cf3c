package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &Subscription{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node}), db
}

func TestSubscribe(t *testing.T) {
	svc, _ := newTestService(t)

	sub, err := svc.Subscribe(context.Background(), "user-1", Standard)
	require.NoError(t, err)
	require.NotEmpty(t, sub.ID)
	require.Equal(t, Active, sub.Status)
	require.Equal(t, Standard, sub.Plan)
	require.True(t, sub.CurrentPeriodEnd.After(sub.CurrentPeriodStart))
}

func TestSubscribeValidatesPlan(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Subscribe(context.Background(), "user-1", Plan("gold"))
	require.Error(t, err)

	_, err = svc.Subscribe(context.Background(), "", Free)
	require.Error(t, err)
}

func TestSubscribeRejectsSecondActive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, "user-1", Free)
	require.NoError(t, err)

	_, err = svc.Subscribe(ctx, "user-1", Premium)
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestActiveForUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	none, err := svc.ActiveForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, none)

	created, err := svc.Subscribe(ctx, "user-1", Standard)
	require.NoError(t, err)

	active, err := svc.ActiveForUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, created.ID, active.ID)
}

func TestActiveForUserExpiresLazily(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	created, err := svc.Subscribe(ctx, "user-1", Standard)
	require.NoError(t, err)

	err = db.Model(&Subscription{}).Where("id = ?", created.ID).
		UpdateColumn("current_period_end", time.Now().Add(-time.Hour)).Error
	require.NoError(t, err)

	active, err := svc.ActiveForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, active)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, Expired, stored.Status)

	// the slot is free again
	_, err = svc.Subscribe(ctx, "user-1", Premium)
	require.NoError(t, err)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Subscribe(ctx, "user-1", Standard)
	require.NoError(t, err)

	canceled, err := svc.Cancel(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, Canceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)

	again, err := svc.Cancel(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, Canceled, again.Status)

	active, err := svc.ActiveForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, active)

	_, err = svc.Cancel(ctx, "missing")
	require.Error(t, err)
}

func TestRenew(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	created, err := svc.Subscribe(ctx, "user-1", Standard)
	require.NoError(t, err)

	renewed, err := svc.Renew(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, renewed.CurrentPeriodEnd.After(created.CurrentPeriodEnd))
	require.Equal(t, Active, renewed.Status)

	err = db.Model(&Subscription{}).Where("id = ?", created.ID).
		UpdateColumns(map[string]any{
			"status":             Expired,
			"current_period_end": time.Now().Add(-time.Hour),
		}).Error
	require.NoError(t, err)

	revived, err := svc.Renew(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, Active, revived.Status)
	require.True(t, revived.CurrentPeriodEnd.After(time.Now()))
}

func TestRenewCanceledFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Subscribe(ctx, "user-1", Standard)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, created.ID)
	require.NoError(t, err)

	_, err = svc.Renew(ctx, created.ID)
	require.Error(t, err)
}
