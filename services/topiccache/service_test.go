package topiccache

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node, Config: &config.Config{}}), db
}

func expire(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	err := db.Model(&Entry{}).Where("id = ?", id).
		UpdateColumn("expires_at", time.Now().Add(-time.Minute)).Error
	require.NoError(t, err)
}

func mustStore(t *testing.T, svc *Service, topic string, words int, locale string) *Entry {
	t.Helper()
	entry, err := svc.Store(context.Background(), StoreInput{
		Topic:       topic,
		Summary:     "summary for " + topic,
		TargetWords: words,
		Locale:      locale,
	})
	require.NoError(t, err)
	return entry
}

func TestNormalizeTopic(t *testing.T) {
	require.Equal(t, "climate tech", NormalizeTopic("  Climate Tech "))
	require.Equal(t, "ai", NormalizeTopic("AI"))
	require.Equal(t, "", NormalizeTopic("   "))
}

func TestStoreAndLookup(t *testing.T) {
	svc, _ := newTestService(t)

	stored := mustStore(t, svc, "climate tech", 200, "us")
	require.NotEmpty(t, stored.ID)
	require.True(t, stored.ExpiresAt.After(time.Now().Add(11*time.Hour)))

	hit, err := svc.Lookup(context.Background(), "climate tech", 200, "us")
	require.NoError(t, err)
	require.NotNil(t, hit)
	require.Equal(t, stored.ID, hit.ID)
	require.Equal(t, "summary for climate tech", hit.Summary)
}

func TestLookupToleranceBand(t *testing.T) {
	cases := []struct {
		name      string
		stored    int
		requested int
		hit       bool
	}{
		{name: "inside band below", stored: 180, requested: 200, hit: true},
		{name: "inside band above", stored: 220, requested: 200, hit: true},
		{name: "lower bound inclusive", stored: 160, requested: 200, hit: true},
		{name: "upper bound inclusive", stored: 240, requested: 200, hit: true},
		{name: "just above band", stored: 241, requested: 200, hit: false},
		{name: "just below band", stored: 159, requested: 200, hit: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			mustStore(t, svc, "ai", tc.stored, "us")

			entry, err := svc.Lookup(context.Background(), "ai", tc.requested, "us")
			require.NoError(t, err)
			if tc.hit {
				require.NotNil(t, entry)
			} else {
				require.Nil(t, entry)
			}
		})
	}
}

func TestLookupPrefersNewest(t *testing.T) {
	svc, _ := newTestService(t)

	mustStore(t, svc, "ai", 200, "us")
	second := mustStore(t, svc, "ai", 200, "us")

	entry, err := svc.Lookup(context.Background(), "ai", 200, "us")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, second.ID, entry.ID)
}

func TestLookupNormalizesTopic(t *testing.T) {
	svc, _ := newTestService(t)

	stored := mustStore(t, svc, "  Go Generics ", 200, "us")
	require.Equal(t, "go generics", stored.Topic)

	entry, err := svc.Lookup(context.Background(), "GO GENERICS", 200, "us")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, stored.ID, entry.ID)
}

func TestLookupLocaleIsExact(t *testing.T) {
	svc, _ := newTestService(t)

	mustStore(t, svc, "ai", 200, "us")

	miss, err := svc.Lookup(context.Background(), "ai", 200, "id")
	require.NoError(t, err)
	require.Nil(t, miss)

	hit, err := svc.Lookup(context.Background(), "ai", 200, "us")
	require.NoError(t, err)
	require.NotNil(t, hit)

	defaulted := mustStore(t, svc, "crypto", 200, "")
	require.Equal(t, DefaultLocale, defaulted.Locale)
}

func TestLookupIgnoresExpired(t *testing.T) {
	svc, db := newTestService(t)

	stored := mustStore(t, svc, "ai", 200, "us")
	expire(t, db, stored.ID)

	entry, err := svc.Lookup(context.Background(), "ai", 200, "us")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestLookupValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Lookup(context.Background(), "   ", 200, "us")
	require.Error(t, err)

	_, err = svc.Lookup(context.Background(), "ai", 0, "us")
	require.Error(t, err)
}

func TestStoreValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, StoreInput{Topic: "", Summary: "text", TargetWords: 200})
	require.Error(t, err)

	_, err = svc.Store(ctx, StoreInput{Topic: "ai", Summary: "   ", TargetWords: 200})
	require.Error(t, err)

	_, err = svc.Store(ctx, StoreInput{Topic: "ai", Summary: "text", TargetWords: 0})
	require.Error(t, err)
}

func TestStoreAppendsWithoutDedupe(t *testing.T) {
	svc, db := newTestService(t)

	mustStore(t, svc, "ai", 200, "us")
	mustStore(t, svc, "ai", 200, "us")

	var total int64
	require.NoError(t, db.Model(&Entry{}).Count(&total).Error)
	require.Equal(t, int64(2), total)
}

func TestInvalidateTopic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustStore(t, svc, "ai", 200, "us")
	mustStore(t, svc, "ai", 300, "us")
	mustStore(t, svc, "go", 200, "us")

	expired, err := svc.InvalidateTopic(ctx, " AI ")
	require.NoError(t, err)
	require.Equal(t, int64(2), expired)

	miss, err := svc.Lookup(ctx, "ai", 200, "us")
	require.NoError(t, err)
	require.Nil(t, miss)

	again, err := svc.InvalidateTopic(ctx, "ai")
	require.NoError(t, err)
	require.Zero(t, again)

	hit, err := svc.Lookup(ctx, "go", 200, "us")
	require.NoError(t, err)
	require.NotNil(t, hit)
}

func TestStats(t *testing.T) {
	svc, db := newTestService(t)

	mustStore(t, svc, "ai", 200, "us")
	mustStore(t, svc, "ai", 300, "us")
	mustStore(t, svc, "go", 200, "us")
	gone := mustStore(t, svc, "legacy", 200, "us")
	expire(t, db, gone.ID)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Live)
	require.Equal(t, int64(1), stats.Expired)
	require.NotEmpty(t, stats.TopTopics)
	require.Equal(t, "ai", stats.TopTopics[0].Topic)
	require.Equal(t, int64(2), stats.TopTopics[0].Count)
	require.NotNil(t, stats.OldestCreatedAt)
	require.NotNil(t, stats.NewestCreatedAt)
	require.False(t, stats.NewestCreatedAt.Before(*stats.OldestCreatedAt))
}

func TestExpireNow(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	keep := mustStore(t, svc, "ai", 200, "us")
	goneA := mustStore(t, svc, "go", 200, "us")
	goneB := mustStore(t, svc, "go", 300, "us")
	expire(t, db, goneA.ID)
	expire(t, db, goneB.ID)

	removed, err := svc.ExpireNow(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	var total int64
	require.NoError(t, db.Model(&Entry{}).Count(&total).Error)
	require.Equal(t, int64(1), total)

	again, err := svc.ExpireNow(ctx)
	require.NoError(t, err)
	require.Zero(t, again)

	hit, err := svc.Lookup(ctx, "ai", 200, "us")
	require.NoError(t, err)
	require.Equal(t, keep.ID, hit.ID)
}
