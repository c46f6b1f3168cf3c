package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/pkg/task"
	"newsbrief-backend/services/brief"
	"newsbrief-backend/services/execution"
	"newsbrief-backend/services/preference"
	"newsbrief-backend/services/subscription"
)

const enqueueWorkers = 8

// Scheduler wakes once a day, finds every schedule whose cron fires that day
// for a user with a live subscription, and enqueues the generation tasks.
// Idempotency lives downstream; running the sweep twice enqueues duplicates
// that the task ids and the execution tracker absorb.
type Scheduler struct {
	briefs   *brief.Service
	prefs    *preference.Service
	subs     *subscription.Service
	enqueuer task.Enqueuer

	hour   int
	minute int

	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerParams struct {
	fx.In

	Briefs   *brief.Service
	Prefs    *preference.Service
	Subs     *subscription.Service
	Enqueuer task.Enqueuer
	Config   *config.Config
}

func NewScheduler(p SchedulerParams) *Scheduler {
	hour, minute := 6, 0
	if p.Config != nil && p.Config.Jobs.DailyHour > 0 {
		hour = p.Config.Jobs.DailyHour
		minute = p.Config.Jobs.DailyMinute
	}

	return &Scheduler{
		briefs:   p.Briefs,
		prefs:    p.Prefs,
		subs:     p.Subs,
		enqueuer: p.Enqueuer,
		hour:     hour,
		minute:   minute,
		done:     make(chan struct{}),
	}
}

// StartScheduler dipanggil otomatis oleh FX saat service start. The loop runs
// on its own context; the fx start context dies right after startup.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

// run menjalankan loop scheduler harian
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("[Scheduler] started daily brief scheduler",
		zap.Int("hour", s.hour),
		zap.Int("minute", s.minute),
	)

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, s.minute)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] running daily brief sweep")

	if err := s.EnqueueDueBriefs(ctx, time.Now().UTC()); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue due briefs", zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(ctx, NewCacheCleanupTask()); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue cache cleanup", zap.Error(err))
	}
	if _, err := s.enqueuer.Enqueue(ctx, NewExecutionCleanupTask()); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue execution cleanup", zap.Error(err))
	}

	zap.L().Info("[Scheduler] finished daily brief sweep",
		zap.Duration("duration", time.Since(start)),
	)
}

// EnqueueDueBriefs fans out one generation task per due schedule for the
// given day. Per-schedule trouble is logged and skipped so one broken row
// cannot starve the rest of the sweep.
func (s *Scheduler) EnqueueDueBriefs(ctx context.Context, now time.Time) error {
	scheduledDate := now.UTC().Format(execution.DateLayout)

	scheds, err := s.briefs.DueOn(ctx, now)
	if err != nil {
		return err
	}

	var enqueued, skipped atomic.Int64
	g := errgroup.Group{}
	g.SetLimit(enqueueWorkers)

	for _, sched := range scheds {
		sched := sched
		g.Go(func() error {
			zapLog := zap.L().With(
				zap.String("user_id", sched.UserID),
				zap.String("brief_id", sched.ID),
				zap.String("scheduled_date", scheduledDate),
			)

			sub, err := s.subs.ActiveForUser(ctx, sched.UserID)
			if err != nil {
				zapLog.Error("failed to check subscription", zap.Error(err))
				skipped.Add(1)
				return nil
			}
			if sub == nil {
				zapLog.Debug("no active subscription, skipping")
				skipped.Add(1)
				return nil
			}

			pref, err := s.prefs.GetByUser(ctx, sched.UserID)
			if err != nil {
				zapLog.Error("failed to load preferences", zap.Error(err))
				skipped.Add(1)
				return nil
			}

			params := brief.ResolveParams(sched, pref)
			if len(params.Topics) == 0 {
				zapLog.Warn("schedule resolves to no topics, skipping")
				skipped.Add(1)
				return nil
			}

			t := NewGenerateBriefTask(GenerateBriefPayload{
				UserID:        sched.UserID,
				BriefID:       sched.ID,
				ScheduledDate: scheduledDate,
				Topics:        params.Topics,
				TargetWords:   params.TargetWords,
				Locale:        params.Locale,
			})
			if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
				if errors.Is(err, asynq.ErrTaskIDConflict) {
					zapLog.Debug("task already enqueued for this day")
					skipped.Add(1)
					return nil
				}
				zapLog.Error("failed to enqueue brief generation", zap.Error(err))
				skipped.Add(1)
				return nil
			}

			enqueued.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("[Scheduler] due briefs enqueued",
		zap.String("scheduled_date", scheduledDate),
		zap.Int("due", len(scheds)),
		zap.Int64("enqueued", enqueued.Load()),
		zap.Int64("skipped", skipped.Load()),
	)
	return nil
}

// nextRunTime menghitung jam berikutnya pada jam tertentu
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
