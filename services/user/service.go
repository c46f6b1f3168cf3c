package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/db/option"
	"newsbrief-backend/pkg/db/pagination"
	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/pkg/repository"
	"newsbrief-backend/pkg/security"
	"newsbrief-backend/services/preference"
)

const minPasswordLength = 8

type Service struct {
	db   *gorm.DB
	repo repository.Repository[User]
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[User](p.DB),
		node: p.Node,
	}
}

type CreateInput struct {
	Email       string
	DisplayName string
	Password    string
	Timezone    string
	Locale      string
}

// Create registers a new account. The email unique index is the real
// duplicate guard; the pre-read only exists to give a clean error without
// burning an id.
func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errutil.ValidationFailed("a valid email is required", nil)
	}
	if len(in.Password) < minPasswordLength {
		return nil, errutil.ValidationFailed("password must be at least 8 characters", nil)
	}

	existing, err := s.repo.FindOne(ctx, &User{Email: email})
	if err != nil {
		zapLog.Error("failed to check existing email", zap.Error(err))
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("email already registered", nil)
	}

	hash, err := security.HashArgon2(in.Password)
	if err != nil {
		zapLog.Error("failed to hash password", zap.Error(err))
		return nil, errutil.Internal("failed to hash password", err)
	}

	timezone := strings.TrimSpace(in.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	locale := strings.ToLower(strings.TrimSpace(in.Locale))
	if locale == "" {
		locale = preference.DefaultLocale
	}

	usr := &User{
		ID:           s.node.Generate().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: hash,
		Timezone:     timezone,
		Locale:       locale,
		Status:       Active,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(usr).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		pref := &preference.Preference{
			ID:           usr.ID,
			Topics:       datatypes.NewJSONSlice([]string{}),
			TargetWords:  preference.DefaultTargetWords,
			Locale:       locale,
			EmailEnabled: true,
		}
		if err := tx.Create(pref).Error; err != nil {
			return fmt.Errorf("failed to create default preferences: %w", err)
		}

		return nil
	}); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("email already registered", err)
		}
		zapLog.Error("failed to create user", zap.Error(err))
		return nil, err
	}

	zapLog.Info("user created", zap.String("user_id", usr.ID))
	return usr, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	usr, err := s.repo.FindOne(ctx, &User{ID: id})
	if err != nil {
		return nil, err
	}
	if usr == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return usr, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	usr, err := s.repo.FindOne(ctx, &User{Email: normalizeEmail(email)})
	if err != nil {
		return nil, err
	}
	if usr == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return usr, nil
}

// List pages newest-first. One extra row is fetched to decide HasMore; the
// page itself is trimmed back to the requested limit.
func (s *Service) List(ctx context.Context, limit int, cursor string) ([]*User, *pagination.PageInfo, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if limit <= 0 {
		limit = 10
	}

	users, err := s.repo.Find(ctx, &User{},
		option.ApplyPagination(pagination.Pagination{Limit: limit + 1, Cursor: cursor}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "DESC"}),
	)
	if err != nil {
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(users, limit, func(u *User) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{CreatedAt: u.CreatedAt.Format(time.RFC3339Nano), ID: u.ID})
		return c
	})
	if len(users) > limit {
		users = users[:limit]
	}

	return users, pageInfo, nil
}

// Suspend blocks the account from scheduling and delivery without deleting
// anything.
func (s *Service) Suspend(ctx context.Context, id string) (*User, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	usr, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if usr.Status == Suspended {
		return usr, nil
	}

	if err := s.repo.Update(ctx, id, map[string]any{"status": Suspended}); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
