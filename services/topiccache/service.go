package topiccache

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/pkg/repository"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "topic_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "topic_cache_miss_total"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss)
}

type Service struct {
	db   *gorm.DB
	repo repository.Repository[Entry]
	node *snowflake.Node
	ttl  time.Duration
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	ttl := DefaultTTL
	if p.Config != nil && p.Config.Jobs.CacheTTL > 0 {
		ttl = p.Config.Jobs.CacheTTL
	}

	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[Entry](p.DB),
		node: p.Node,
		ttl:  ttl,
	}
}

// Lookup returns the newest fresh entry whose stored size sits inside the
// inclusive 20 percent band around targetWords and whose locale matches
// exactly. A miss is (nil, nil); only infrastructure trouble is an error.
//
// The band check stays in integer arithmetic so the bounds are exact:
// stored*10 must fall inside [requested*8, requested*12].
func (s *Service) Lookup(ctx context.Context, topic string, targetWords int, locale string) (*Entry, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	topic = NormalizeTopic(topic)
	if topic == "" {
		return nil, errutil.BadRequest("topic is required", nil)
	}
	if targetWords <= 0 {
		return nil, errutil.BadRequest("target_words must be positive", nil)
	}
	locale = normalizeLocale(locale)

	var entry Entry
	err := s.db.WithContext(ctx).
		Where("topic = ?", topic).
		Where("locale = ?", locale).
		Where("expires_at > ?", time.Now()).
		Where("target_words * 10 BETWEEN ? AND ?", targetWords*8, targetWords*12).
		Order("created_at DESC, id DESC").
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			cacheMiss.Inc()
			return nil, nil
		}
		return nil, err
	}

	cacheHits.Inc()
	return &entry, nil
}

// StoreInput carries one summary to cache. TTL falls back to the configured
// cache lifetime when zero.
type StoreInput struct {
	Topic       string
	Summary     string
	TargetWords int
	Locale      string
	Metadata    map[string]any
	SourceRefs  []SourceRef
	TTL         time.Duration
}

// Store appends a new entry. It never overwrites or dedupes; older rows for
// the same topic simply stop winning lookups once a newer one lands.
func (s *Service) Store(ctx context.Context, in StoreInput) (*Entry, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	topic := NormalizeTopic(in.Topic)
	if topic == "" {
		return nil, errutil.BadRequest("topic is required", nil)
	}
	if strings.TrimSpace(in.Summary) == "" {
		return nil, errutil.BadRequest("summary is required", nil)
	}
	if in.TargetWords <= 0 {
		return nil, errutil.BadRequest("target_words must be positive", nil)
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := time.Now()
	entry := &Entry{
		ID:          s.node.Generate().String(),
		Topic:       topic,
		Summary:     in.Summary,
		TargetWords: in.TargetWords,
		Locale:      normalizeLocale(in.Locale),
		Metadata:    in.Metadata,
		SourceRefs:  in.SourceRefs,
		ExpiresAt:   now.Add(ttl),
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		zapLog.Error("failed to store topic cache entry", zap.Error(err))
		return nil, err
	}

	zapLog.Info("topic cache entry stored",
		zap.String("entry_id", entry.ID),
		zap.String("topic", topic),
		zap.Int("target_words", in.TargetWords),
		zap.Time("expires_at", entry.ExpiresAt),
	)
	return entry, nil
}

type TopicCount struct {
	Topic string `gorm:"column:topic" json:"topic"`
	Count int64  `gorm:"column:total" json:"count"`
}

type Stats struct {
	Live            int64
	Expired         int64
	TopTopics       []TopicCount
	OldestCreatedAt *time.Time
	NewestCreatedAt *time.Time
}

// Stats reports live and expired entry counts, the twenty busiest live
// topics, and the creation span of the live set.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	now := time.Now()
	stats := &Stats{}

	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("expires_at > ?", now).
		Count(&stats.Live).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("expires_at <= ?", now).
		Count(&stats.Expired).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("topic, COUNT(*) AS total").
		Where("expires_at > ?", now).
		Group("topic").
		Order("total DESC, topic ASC").
		Limit(20).
		Scan(&stats.TopTopics).Error; err != nil {
		return nil, err
	}

	var oldest, newest Entry
	err := s.db.WithContext(ctx).
		Where("expires_at > ?", now).
		Order("created_at ASC, id ASC").
		First(&oldest).Error
	if err == nil {
		stats.OldestCreatedAt = &oldest.CreatedAt
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Where("expires_at > ?", now).
		Order("created_at DESC, id DESC").
		First(&newest).Error
	if err == nil {
		stats.NewestCreatedAt = &newest.CreatedAt
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	return stats, nil
}

// InvalidateTopic force-expires every live entry for a topic and returns how
// many it touched. Repeating the call finds nothing live and reports zero.
func (s *Service) InvalidateTopic(ctx context.Context, topic string) (int64, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	topic = NormalizeTopic(topic)
	if topic == "" {
		return 0, errutil.BadRequest("topic is required", nil)
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Entry{}).
		Where("topic = ? AND expires_at > ?", topic, now).
		Update("expires_at", now)
	if res.Error != nil {
		return 0, res.Error
	}

	zap.L().Info("topic cache entries invalidated",
		zap.String("topic", topic),
		zap.Int64("expired", res.RowsAffected),
	)
	return res.RowsAffected, nil
}

// ExpireNow removes entries whose expiry has already passed and returns how
// many rows went away. Lookup ignores them either way; removal reclaims
// storage ahead of the retention sweep. Calling it twice in a row removes
// nothing the second time.
func (s *Service) ExpireNow(ctx context.Context) (int64, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&Entry{})
	if res.Error != nil {
		return 0, res.Error
	}

	zap.L().Info("expired topic cache entries removed", zap.Int64("removed", res.RowsAffected))
	return res.RowsAffected, nil
}

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return DefaultLocale
	}
	return locale
}
