package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/pkg/summarizer"
	"newsbrief-backend/services/execution"
	"newsbrief-backend/services/topiccache"
)

// Task owns the asynq handlers. One run claims its execution slot, resolves
// every topic through the cache or the summarizer, and reports the outcome
// back to the tracker.
type Task struct {
	execution  *execution.Service
	cache      *topiccache.Service
	summarizer summarizer.Summarizer
	flight     singleflight.Group
	retention  time.Duration
}

type TaskParams struct {
	fx.In

	Execution  *execution.Service
	Cache      *topiccache.Service
	Summarizer summarizer.Summarizer
	Config     *config.Config
}

func NewTask(p TaskParams) *Task {
	retention := execution.DefaultRetention
	if p.Config != nil && p.Config.Jobs.Retention > 0 {
		retention = p.Config.Jobs.Retention
	}

	return &Task{
		execution:  p.Execution,
		cache:      p.Cache,
		summarizer: p.Summarizer,
		retention:  retention,
	}
}

// HandleGenerateBrief runs one scheduled brief. Upstream failures are
// recorded on the execution record and the task still returns nil; the retry
// budget lives in the tracker, not in asynq, so a requeue tomorrow or a
// manual re-enqueue goes back through acquire and gets a clean grant.
func (s *Task) HandleGenerateBrief(ctx context.Context, t *asynq.Task) error {
	var payload GenerateBriefPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("user_id", payload.UserID),
		zap.String("brief_id", payload.BriefID),
		zap.String("scheduled_date", payload.ScheduledDate),
		zap.String("trace_id", payload.TraceID),
	)
	zapLog.Info("▶️ start brief generation task")

	acq, err := s.execution.AcquireOrJoin(ctx, payload.UserID, payload.BriefID, payload.ScheduledDate, payload.Topics)
	if err != nil {
		zapLog.Error("failed to acquire execution", zap.Error(err))
		return err
	}
	if !acq.ShouldExecute {
		status := "unknown"
		if acq.Record != nil {
			status = acq.Record.Status.String()
		}
		zapLog.Info("execution not granted, skipping", zap.String("status", status))
		return nil
	}

	executionID := acq.Record.ExecutionID
	if _, err := s.execution.MarkStarted(ctx, executionID); err != nil {
		zapLog.Error("failed to mark execution started", zap.Error(err))
		return err
	}

	for _, topic := range payload.Topics {
		if err := s.resolveTopic(ctx, topic, payload.TargetWords, payload.Locale); err != nil {
			zapLog.Error("topic summarization failed",
				zap.String("topic", topic),
				zap.Error(err),
			)
			if _, markErr := s.execution.MarkFailed(ctx, executionID, err); markErr != nil {
				zapLog.Error("failed to mark execution failed", zap.Error(markErr))
			}
			return nil
		}
	}

	rec, err := s.execution.MarkCompleted(ctx, executionID)
	if err != nil {
		zapLog.Error("failed to mark execution completed", zap.Error(err))
		return err
	}

	zapLog.Info("✅ brief generation finished",
		zap.Int("topics", len(payload.Topics)),
		zap.Int64("duration_millis", rec.DurationMillis),
	)
	return nil
}

// resolveTopic serves the topic from cache or summarizes and stores it.
// Concurrent workers chasing the same miss collapse into one summarizer call.
func (s *Task) resolveTopic(ctx context.Context, topic string, targetWords int, locale string) error {
	entry, err := s.cache.Lookup(ctx, topic, targetWords, locale)
	if err != nil {
		return err
	}
	if entry != nil {
		return nil
	}

	key := strings.Join([]string{topiccache.NormalizeTopic(topic), strconv.Itoa(targetWords), locale}, "|")
	_, err, _ = s.flight.Do(key, func() (any, error) {
		// another flight may have filled the cache while this one waited
		if entry, err := s.cache.Lookup(ctx, topic, targetWords, locale); err != nil {
			return nil, err
		} else if entry != nil {
			return entry, nil
		}

		res, err := s.summarizer.Summarize(ctx, summarizer.Request{
			Topic:       topic,
			TargetWords: targetWords,
			Locale:      locale,
		})
		if err != nil {
			return nil, err
		}

		return s.cache.Store(ctx, topiccache.StoreInput{
			Topic:       topic,
			Summary:     res.Summary,
			TargetWords: targetWords,
			Locale:      locale,
			Metadata:    res.Metadata,
			SourceRefs:  toSourceRefs(res.Sources),
		})
	})
	return err
}

func toSourceRefs(sources []summarizer.Source) []topiccache.SourceRef {
	refs := make([]topiccache.SourceRef, 0, len(sources))
	for _, src := range sources {
		publishedAt := ""
		if !src.PublishedAt.IsZero() {
			publishedAt = src.PublishedAt.Format(time.RFC3339)
		}
		refs = append(refs, topiccache.SourceRef{
			Title:       src.Title,
			URL:         src.URL,
			Origin:      src.Origin,
			PublishedAt: publishedAt,
		})
	}
	return refs
}

func (s *Task) HandleCacheCleanup(ctx context.Context, t *asynq.Task) error {
	removed, err := s.cache.ExpireNow(ctx)
	if err != nil {
		zap.L().Error("failed to remove expired cache entries", zap.Error(err))
		return err
	}

	zap.L().Info("🧹 expired cache entries removed", zap.Int64("removed", removed))
	return nil
}

func (s *Task) HandleExecutionCleanup(ctx context.Context, t *asynq.Task) error {
	pruned, err := s.execution.PruneOlderThan(ctx, s.retention)
	if err != nil {
		zap.L().Error("failed to prune execution records", zap.Error(err))
		return err
	}

	zap.L().Info("🧹 old execution records pruned", zap.Int64("pruned", pruned))
	return nil
}
