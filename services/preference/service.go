package preference

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/pkg/repository"
)

type Service struct {
	db   *gorm.DB
	repo repository.Repository[Preference]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[Preference](p.DB),
	}
}

// GetByUser returns the user's preferences, materializing the default row on
// first read. A duplicate-key error on the insert means a concurrent first
// read won, so the row is re-read instead of failing.
func (s *Service) GetByUser(ctx context.Context, userID string) (*Preference, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	pref, err := s.repo.FindOne(ctx, &Preference{ID: userID})
	if err != nil {
		return nil, err
	}
	if pref != nil {
		return pref, nil
	}

	pref = &Preference{
		ID:           userID,
		Topics:       datatypes.NewJSONSlice([]string{}),
		TargetWords:  DefaultTargetWords,
		Locale:       DefaultLocale,
		EmailEnabled: true,
	}
	if err := s.repo.Create(ctx, pref); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.repo.FindOne(ctx, &Preference{ID: userID})
		}
		zap.L().Error("failed to create default preferences", zap.Error(err), zap.String("user_id", userID))
		return nil, err
	}

	return pref, nil
}

// Patch carries a partial update; nil fields are left untouched.
type Patch struct {
	Topics       *[]string
	TargetWords  *int
	Locale       *string
	EmailEnabled *bool
}

// Update applies a patch through a version-guarded merge so two concurrent
// patches touching different fields both survive.
func (s *Service) Update(ctx context.Context, userID string, patch Patch) (*Preference, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if patch.TargetWords != nil && *patch.TargetWords <= 0 {
		return nil, errutil.ValidationFailed("target_words must be positive", nil)
	}

	var topics []string
	if patch.Topics != nil {
		topics = normalizeTopics(*patch.Topics)
		if len(topics) > MaxTopics {
			return nil, errutil.ValidationFailed("too many topics", nil)
		}
	}

	var locale string
	if patch.Locale != nil {
		locale = strings.ToLower(strings.TrimSpace(*patch.Locale))
		if locale == "" {
			return nil, errutil.ValidationFailed("locale must not be blank", nil)
		}
	}

	// materialize the default row so a patch is never the first write
	if _, err := s.GetByUser(ctx, userID); err != nil {
		return nil, err
	}

	return repository.MergeUpdate[Preference](ctx, s.db, userID, func(pref *Preference) error {
		if patch.Topics != nil {
			pref.Topics = datatypes.NewJSONSlice(topics)
		}
		if patch.TargetWords != nil {
			pref.TargetWords = *patch.TargetWords
		}
		if patch.Locale != nil {
			pref.Locale = locale
		}
		if patch.EmailEnabled != nil {
			pref.EmailEnabled = *patch.EmailEnabled
		}
		return nil
	})
}

// normalizeTopics trims entries, drops blanks, and dedupes case-insensitively
// while keeping first-seen casing and order.
func normalizeTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		key := strings.ToLower(topic)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, topic)
	}
	return out
}
