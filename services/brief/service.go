package brief

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/db/option"
	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/pkg/repository"
	"newsbrief-backend/pkg/sequence"
)

type Service struct {
	db   *gorm.DB
	repo repository.Repository[Schedule]
	node *snowflake.Node
	seq  sequence.Generator
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[Schedule](p.DB),
		node: p.Node,
		seq:  p.Seq,
	}
}

type ScheduleInput struct {
	UserID      string
	Name        string
	CronExpr    string
	Topics      []string
	TargetWords int
	Locale      string
}

// Schedule registers a recurring brief for the user. The name slugifies into
// a per-user handle; reusing a name is a conflict rather than a silent
// second schedule.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (*Schedule, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("user_id", in.UserID),
	)

	if in.UserID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errutil.ValidationFailed("name is required", nil)
	}
	if in.TargetWords < 0 {
		return nil, errutil.ValidationFailed("target_words must not be negative", nil)
	}

	expr := strings.TrimSpace(in.CronExpr)
	if expr == "" {
		expr = DefaultCronExpr
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return nil, errutil.ValidationFailed("invalid cron expression", err)
	}

	slugName := slug.Make(name)

	exist, err := s.repo.FindOne(ctx, &Schedule{UserID: in.UserID, Slug: slugName})
	if err != nil {
		zapLog.Error("failed query get schedule by slug", zap.Error(err))
		return nil, err
	}
	if exist != nil {
		zapLog.Warn("brief schedule already exists", zap.String("slug", slugName))
		return nil, errutil.Conflict("a brief with this name already exists", nil)
	}

	code, err := s.seq.NextBriefCode(ctx, in.UserID)
	if err != nil {
		zapLog.Error("failed to generate brief code", zap.Error(err))
		return nil, errutil.Internal("failed to create brief schedule", err)
	}

	sched := &Schedule{
		ID:          s.node.Generate().String(),
		UserID:      in.UserID,
		Name:        name,
		Slug:        slugName,
		Code:        code,
		CronExpr:    expr,
		Topics:      datatypes.NewJSONSlice(in.Topics),
		TargetWords: in.TargetWords,
		Locale:      strings.ToLower(strings.TrimSpace(in.Locale)),
		Active:      true,
	}

	if err := s.repo.Create(ctx, sched); err != nil {
		zapLog.Error("failed to create brief schedule", zap.Error(err))
		return nil, err
	}

	zapLog.Info("brief schedule created",
		zap.String("brief_id", sched.ID),
		zap.String("slug", slugName),
		zap.String("cron", expr),
	)
	return sched, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	sched, err := s.repo.FindOne(ctx, &Schedule{ID: id})
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, errutil.NotFound("brief schedule not found", nil)
	}
	return sched, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Schedule, error) {
	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	return s.repo.Find(ctx, &Schedule{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "DESC"}),
	)
}

// Patch carries a partial update; nil fields are left untouched. The slug
// stays fixed even when the display name changes.
type Patch struct {
	Name        *string
	CronExpr    *string
	Topics      *[]string
	TargetWords *int
	Locale      *string
	Active      *bool
}

func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Schedule, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errutil.ValidationFailed("name must not be blank", nil)
		}
		fields["name"] = name
	}
	if patch.CronExpr != nil {
		expr := strings.TrimSpace(*patch.CronExpr)
		if _, err := cron.ParseStandard(expr); err != nil {
			return nil, errutil.ValidationFailed("invalid cron expression", err)
		}
		fields["cron_expr"] = expr
	}
	if patch.Topics != nil {
		fields["topics"] = datatypes.NewJSONSlice(*patch.Topics)
	}
	if patch.TargetWords != nil {
		if *patch.TargetWords < 0 {
			return nil, errutil.ValidationFailed("target_words must not be negative", nil)
		}
		fields["target_words"] = *patch.TargetWords
	}
	if patch.Locale != nil {
		fields["locale"] = strings.ToLower(strings.TrimSpace(*patch.Locale))
	}
	if patch.Active != nil {
		fields["active"] = *patch.Active
	}

	if len(fields) == 0 {
		return s.Get(ctx, id)
	}

	if err := s.repo.Update(ctx, id, fields); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Schedule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("brief schedule not found", nil)
	}

	zap.L().Info("brief schedule deleted", zap.String("brief_id", id))
	return nil
}

// DueOn returns the active schedules whose cron fires inside the given UTC
// calendar day. A stored expression that no longer parses is skipped with a
// warning instead of failing the whole sweep.
func (s *Service) DueOn(ctx context.Context, day time.Time) ([]*Schedule, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	scheds, err := s.repo.Find(ctx, &Schedule{Active: true})
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	due := make([]*Schedule, 0, len(scheds))
	for _, sched := range scheds {
		spec, err := cron.ParseStandard(sched.CronExpr)
		if err != nil {
			zap.L().Warn("skipping schedule with unparseable cron",
				zap.String("brief_id", sched.ID),
				zap.String("cron", sched.CronExpr),
				zap.Error(err),
			)
			continue
		}
		if next := spec.Next(dayStart.Add(-time.Second)); next.Before(dayEnd) {
			due = append(due, sched)
		}
	}

	return due, nil
}
