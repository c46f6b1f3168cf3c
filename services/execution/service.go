package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/pkg/errutil"
	"newsbrief-backend/pkg/repository"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// DefaultStaleAfter bounds how long a record may sit in running (or
	// pending) before any later acquirer may reclaim it as crashed.
	DefaultStaleAfter = 10 * time.Minute

	// DefaultRetention is how long records stay queryable before pruning.
	DefaultRetention = 7 * 24 * time.Hour

	// acquireAttempts bounds the re-read loop under insert and update races.
	acquireAttempts = 3
)

// Acquisition is the outcome of AcquireOrJoin. ShouldExecute tells the caller
// whether it holds the grant to run; everyone else observes the record.
type Acquisition struct {
	ShouldExecute bool
	IsNew         bool
	Record        *Record
}

type Service struct {
	db         *gorm.DB
	repo       repository.Repository[Record]
	staleAfter time.Duration
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	staleAfter := DefaultStaleAfter
	if p.Config != nil && p.Config.Jobs.StaleAfter > 0 {
		staleAfter = p.Config.Jobs.StaleAfter
	}

	return &Service{
		db:         p.DB,
		repo:       repository.ProvideStore[Record](p.DB),
		staleAfter: staleAfter,
	}
}

// AcquireOrJoin claims the right to run a (user, brief, day) triple or joins
// an attempt that already exists. At most one caller at a time is told
// ShouldExecute. The insert races on the primary key; a duplicate-key error
// means another worker inserted first, so the call re-reads and follows the
// existing-record path instead.
func (s *Service) AcquireOrJoin(ctx context.Context, userID, briefID, scheduledDate string, topics []string) (*Acquisition, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("user_id", userID),
		zap.String("brief_id", briefID),
		zap.String("scheduled_date", scheduledDate),
	)

	if userID == "" || briefID == "" {
		return nil, errutil.BadRequest("user_id and brief_id are required", nil)
	}
	if _, err := time.Parse(DateLayout, scheduledDate); err != nil {
		return nil, errutil.BadRequest("scheduled_date must be formatted as "+DateLayout, err)
	}

	id := ExecutionID(userID, briefID, scheduledDate)

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		existing, err := s.get(ctx, id)
		if err != nil {
			zapLog.Error("failed to read execution record", zap.Error(err))
			return nil, err
		}

		if existing == nil {
			rec := &Record{
				ExecutionID:   id,
				UserID:        userID,
				BriefID:       briefID,
				ScheduledDate: scheduledDate,
				Status:        Pending,
				Topics:        datatypes.NewJSONSlice(topics),
			}

			err := s.repo.Create(ctx, rec)
			if err == nil {
				zapLog.Info("execution acquired", zap.String("execution_id", id))
				return &Acquisition{ShouldExecute: true, IsNew: true, Record: rec}, nil
			}
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// lost the insert race; re-read and join the winner's record
				continue
			}
			zapLog.Error("failed to create execution record", zap.Error(err))
			return nil, err
		}

		switch existing.Status {
		case Completed:
			// success already happened for this triple, never rerun
			return &Acquisition{Record: existing}, nil

		case Pending, Running:
			if time.Since(existing.staleSince()) <= s.staleAfter {
				return &Acquisition{Record: existing}, nil
			}

			reclaimed, err := s.reclaimStale(ctx, existing)
			if err != nil {
				zapLog.Error("failed to reclaim stale execution", zap.Error(err))
				return nil, err
			}
			if !reclaimed {
				// a concurrent caller transitioned it first; they hold the grant
				rec, err := s.get(ctx, id)
				if err != nil {
					return nil, err
				}
				return &Acquisition{Record: rec}, nil
			}

			rec, err := s.get(ctx, id)
			if err != nil {
				return nil, err
			}
			zapLog.Warn("stale execution reclaimed",
				zap.String("execution_id", id),
				zap.Duration("stale_after", s.staleAfter),
			)
			return &Acquisition{ShouldExecute: true, Record: rec}, nil

		case Failed:
			granted, err := s.grantRetry(ctx, id)
			if err != nil {
				zapLog.Error("failed to grant execution retry", zap.Error(err))
				return nil, err
			}
			if !granted {
				continue
			}

			rec, err := s.get(ctx, id)
			if err != nil {
				return nil, err
			}
			zapLog.Info("execution retry granted", zap.String("execution_id", id), zap.Int("retry_count", rec.RetryCount))
			return &Acquisition{ShouldExecute: true, Record: rec}, nil
		}
	}

	// contention exhausted the loop; join whatever state won
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Acquisition{Record: rec}, nil
}

// reclaimStale moves a presumed-crashed record to failed. The status guard
// makes concurrent reclaimers race for a single row update, so exactly one
// wins and the retry count moves by one.
func (s *Service) reclaimStale(ctx context.Context, rec *Record) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("execution_id = ? AND status = ?", rec.ExecutionID, rec.Status).
		Updates(map[string]any{
			"status":       Failed,
			"last_error":   fmt.Sprintf("reclaimed: stuck in %s beyond %s", rec.Status, s.staleAfter),
			"completed_at": time.Now(),
			"retry_count":  gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// grantRetry moves a failed record back to pending for a fresh attempt.
func (s *Service) grantRetry(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("execution_id = ? AND status = ?", id, Failed).
		Updates(map[string]any{
			"status":          Pending,
			"retry_count":     gorm.Expr("retry_count + 1"),
			"started_at":      nil,
			"completed_at":    nil,
			"duration_millis": 0,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkStarted stamps the record running. Unknown keys are a no-op (nil, nil);
// completed records are returned unchanged, success is sticky.
func (s *Service) MarkStarted(ctx context.Context, executionID string) (*Record, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	rec, err := s.get(ctx, executionID)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Status == Completed {
		return rec, nil
	}

	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("execution_id = ? AND status <> ?", executionID, Completed).
		Updates(map[string]any{
			"status":          Running,
			"started_at":      time.Now(),
			"completed_at":    nil,
			"duration_millis": 0,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	return s.get(ctx, executionID)
}

// MarkCompleted records success and the run duration measured from the
// current start stamp. Calling it again is a no-op returning the record as
// completed by the first transition.
func (s *Service) MarkCompleted(ctx context.Context, executionID string) (*Record, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	rec, err := s.get(ctx, executionID)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Status == Completed {
		return rec, nil
	}

	now := time.Now()
	var durationMillis int64
	if rec.StartedAt != nil {
		durationMillis = now.Sub(*rec.StartedAt).Milliseconds()
	}

	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("execution_id = ? AND status <> ?", executionID, Completed).
		Updates(map[string]any{
			"status":          Completed,
			"completed_at":    now,
			"duration_millis": durationMillis,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	return s.get(ctx, executionID)
}

// MarkFailed records a failed attempt with its error text. A completed record
// is never downgraded.
func (s *Service) MarkFailed(ctx context.Context, executionID string, runErr error) (*Record, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	rec, err := s.get(ctx, executionID)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Status == Completed {
		return rec, nil
	}

	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}

	now := time.Now()
	var durationMillis int64
	if rec.StartedAt != nil {
		durationMillis = now.Sub(*rec.StartedAt).Milliseconds()
	}

	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("execution_id = ? AND status <> ?", executionID, Completed).
		Updates(map[string]any{
			"status":          Failed,
			"last_error":      msg,
			"completed_at":    now,
			"duration_millis": durationMillis,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	return s.get(ctx, executionID)
}

// Stats summarizes records created inside the window. Running is counted
// across all records regardless of window so stuck work stays visible.
type Stats struct {
	Window            time.Duration
	Total             int64
	ByStatus          map[Status]int64
	Running           int64
	SuccessRate       float64
	AvgDurationMillis float64
}

func (s *Service) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if window <= 0 {
		window = 24 * time.Hour
	}
	since := time.Now().Add(-window)

	var rows []struct {
		Status Status
		Total  int64
	}
	if err := s.db.WithContext(ctx).Model(&Record{}).
		Select("status, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &Stats{Window: window, ByStatus: make(map[Status]int64, len(rows))}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Total
		stats.Total += row.Total
	}

	completed := stats.ByStatus[Completed]
	failed := stats.ByStatus[Failed]
	if completed+failed > 0 {
		stats.SuccessRate = float64(completed) / float64(completed+failed)
	}

	if err := s.db.WithContext(ctx).Model(&Record{}).
		Where("status = ?", Running).
		Count(&stats.Running).Error; err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.WithContext(ctx).Model(&Record{}).
		Select("AVG(duration_millis)").
		Where("status = ? AND created_at >= ?", Completed, since).
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgDurationMillis = avg.Float64
	}

	return stats, nil
}

// PruneOlderThan deletes records created before the retention cutoff and
// returns how many were removed. Correctness never depends on pruning; the
// completed row only needs to outlive its scheduled day to block reruns.
func (s *Service) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = DefaultRetention
	}
	cutoff := time.Now().Add(-age)

	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}

func (s *Service) get(ctx context.Context, id string) (*Record, error) {
	return s.repo.FindOne(ctx, &Record{ExecutionID: id})
}
