package brief

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/services/preference"
	"newsbrief-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubCodes struct {
	err error
}

func (s stubCodes) NextBriefCode(ctx context.Context, userID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "BRF-260314-001AB", nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Schedule{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node, Seq: stubCodes{}})
}

func TestSchedule(t *testing.T) {
	svc := newTestService(t)

	sched, err := svc.Schedule(context.Background(), ScheduleInput{
		UserID: "user-1",
		Name:   "Morning AI Brief",
		Topics: []string{"ai", "robotics"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sched.ID)
	require.Equal(t, "morning-ai-brief", sched.Slug)
	require.Equal(t, "BRF-260314-001AB", sched.Code)
	require.Equal(t, DefaultCronExpr, sched.CronExpr)
	require.True(t, sched.Active)
	require.Equal(t, []string{"ai", "robotics"}, []string(sched.Topics))
}

func TestScheduleValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Schedule(ctx, ScheduleInput{Name: "no owner"})
	require.Error(t, err)

	_, err = svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "   "})
	require.Error(t, err)

	_, err = svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "bad cron", CronExpr: "61 * * * *"})
	require.Error(t, err)

	_, err = svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "bad size", TargetWords: -1})
	require.Error(t, err)
}

func TestScheduleDuplicateName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "Daily Brief"})
	require.NoError(t, err)

	_, err = svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "daily   brief"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	// the same name is fine for a different user
	_, err = svc.Schedule(ctx, ScheduleInput{UserID: "user-2", Name: "Daily Brief"})
	require.NoError(t, err)
}

func TestScheduleCodeGenerationFailure(t *testing.T) {
	db := testutil.NewTestDB(t, &Schedule{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(ServiceParams{DB: db, Node: node, Seq: stubCodes{err: errors.New("redis down")}})

	_, err = svc.Schedule(context.Background(), ScheduleInput{UserID: "user-1", Name: "Daily Brief"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusInternal, be.Status())
}

func TestUpdate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sched, err := svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "Daily Brief"})
	require.NoError(t, err)

	active := false
	updated, err := svc.Update(ctx, sched.ID, Patch{
		Name:     ptr("Evening Brief"),
		CronExpr: ptr("0 19 * * *"),
		Active:   &active,
	})
	require.NoError(t, err)
	require.Equal(t, "Evening Brief", updated.Name)
	require.Equal(t, "daily-brief", updated.Slug)
	require.Equal(t, "0 19 * * *", updated.CronExpr)
	require.False(t, updated.Active)

	_, err = svc.Update(ctx, sched.ID, Patch{CronExpr: ptr("nonsense")})
	require.Error(t, err)

	_, err = svc.Update(ctx, "missing", Patch{Active: &active})
	require.Error(t, err)
}

func TestListByUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "One"})
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "Two"})
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, ScheduleInput{UserID: "user-2", Name: "Other"})
	require.NoError(t, err)

	scheds, err := svc.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, scheds, 2)
}

func TestDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sched, err := svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "Daily Brief"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, sched.ID))

	_, err = svc.Get(ctx, sched.ID)
	require.Error(t, err)

	err = svc.Delete(ctx, sched.ID)
	require.Error(t, err)
}

func TestDueOn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	daily, err := svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "Daily"})
	require.NoError(t, err)

	mondays, err := svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "Mondays", CronExpr: "0 7 * * 1"})
	require.NoError(t, err)

	paused, err := svc.Schedule(ctx, ScheduleInput{UserID: "user-1", Name: "Paused"})
	require.NoError(t, err)
	inactive := false
	_, err = svc.Update(ctx, paused.ID, Patch{Active: &inactive})
	require.NoError(t, err)

	monday := time.Date(2026, 3, 16, 15, 0, 0, 0, time.UTC)
	due, err := svc.DueOn(ctx, monday)
	require.NoError(t, err)
	require.Len(t, due, 2)

	ids := map[string]bool{}
	for _, sched := range due {
		ids[sched.ID] = true
	}
	require.True(t, ids[daily.ID])
	require.True(t, ids[mondays.ID])

	tuesday := monday.Add(24 * time.Hour)
	due, err = svc.DueOn(ctx, tuesday)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, daily.ID, due[0].ID)
}

func TestResolveParams(t *testing.T) {
	pref := &preference.Preference{
		ID:          "user-1",
		Topics:      datatypes.NewJSONSlice([]string{"climate", "energy"}),
		TargetWords: 250,
		Locale:      "id",
	}

	// schedule overrides win
	params := ResolveParams(&Schedule{
		Topics:      datatypes.NewJSONSlice([]string{"ai"}),
		TargetWords: 400,
		Locale:      "us",
	}, pref)
	require.Equal(t, []string{"ai"}, params.Topics)
	require.Equal(t, 400, params.TargetWords)
	require.Equal(t, "us", params.Locale)

	// empty overrides inherit from preferences
	params = ResolveParams(&Schedule{}, pref)
	require.Equal(t, []string{"climate", "energy"}, params.Topics)
	require.Equal(t, 250, params.TargetWords)
	require.Equal(t, "id", params.Locale)

	// nothing anywhere falls back to service defaults
	params = ResolveParams(&Schedule{}, nil)
	require.Empty(t, params.Topics)
	require.Equal(t, preference.DefaultTargetWords, params.TargetWords)
	require.Equal(t, preference.DefaultLocale, params.Locale)
}

func ptr[T any](v T) *T {
	return &v
}
