package subscription

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/pkg/repository"
)

// DefaultPeriod is one billing cycle. Every plan, free included, carries a
// period; renewal extends it.
const DefaultPeriod = 30 * 24 * time.Hour

type Service struct {
	db   *gorm.DB
	repo repository.Repository[Subscription]
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
		repo: repository.ProvideStore[Subscription](p.DB),
		node: p.Node,
	}
}

// Subscribe opens a new subscription for the user. A user holds at most one
// live subscription; subscribing over it is a conflict.
func (s *Service) Subscribe(ctx context.Context, userID string, plan Plan) (*Subscription, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("user_id", userID),
	)

	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	if !plan.Valid() {
		return nil, errutil.ValidationFailed("unknown plan", nil)
	}

	existing, err := s.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("user already has an active subscription", nil)
	}

	now := time.Now()
	sub := &Subscription{
		ID:                 s.node.Generate().String(),
		UserID:             userID,
		Plan:               plan,
		Status:             Active,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(DefaultPeriod),
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		zapLog.Error("failed to create subscription", zap.Error(err))
		return nil, err
	}

	zapLog.Info("subscription created", zap.String("subscription_id", sub.ID), zap.String("plan", string(plan)))
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	sub, err := s.repo.FindOne(ctx, &Subscription{ID: id})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errutil.NotFound("subscription not found", nil)
	}
	return sub, nil
}

// ActiveForUser returns the user's live subscription or (nil, nil). A row
// still marked active past its period end is flipped to expired on the way
// through, so expiry needs no background sweep.
func (s *Service) ActiveForUser(ctx context.Context, userID string) (*Subscription, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	var sub Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, Active).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	if sub.CurrentPeriodEnd.After(time.Now()) {
		return &sub, nil
	}

	res := s.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ? AND status = ?", sub.ID, Active).
		Update("status", Expired)
	if res.Error != nil {
		return nil, res.Error
	}

	zap.L().Info("subscription expired",
		zap.String("subscription_id", sub.ID),
		zap.String("user_id", userID),
	)
	return nil, nil
}

// Cancel ends the subscription immediately. Canceling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (*Subscription, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == Canceled {
		return sub, nil
	}

	res := s.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ? AND status <> ?", id, Canceled).
		Updates(map[string]any{
			"status":      Canceled,
			"canceled_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}

	return s.Get(ctx, id)
}

// Renew extends the period by one cycle from now or from the current period
// end, whichever is later, and brings past_due or expired rows back to
// active. A canceled subscription stays canceled.
func (s *Service) Renew(ctx context.Context, id string) (*Subscription, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == Canceled {
		return nil, errutil.Conflict("canceled subscription cannot be renewed", nil)
	}

	from := time.Now()
	if sub.CurrentPeriodEnd.After(from) {
		from = sub.CurrentPeriodEnd
	}

	if err := s.repo.Update(ctx, id, map[string]any{
		"status":             Active,
		"current_period_end": from.Add(DefaultPeriod),
	}); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}
