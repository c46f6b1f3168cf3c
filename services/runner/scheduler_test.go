package runner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/services/brief"
	"newsbrief-backend/services/preference"
	"newsbrief-backend/services/subscription"
	"newsbrief-backend/services/testutil"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: t.Type()}, nil
}

func (f *fakeEnqueuer) all() []*asynq.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*asynq.Task(nil), f.tasks...)
}

type stubCodes struct{}

func (stubCodes) NextBriefCode(ctx context.Context, userID string) (string, error) {
	return "BRF-260314-001AB", nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	briefs    *brief.Service
	prefs     *preference.Service
	subs      *subscription.Service
	enqueuer  *fakeEnqueuer
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db := testutil.NewTestDB(t, &brief.Schedule{}, &preference.Preference{}, &subscription.Subscription{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	briefs := brief.NewService(brief.ServiceParams{DB: db, Node: node, Seq: stubCodes{}})
	prefs := preference.NewService(preference.ServiceParams{DB: db})
	subs := subscription.NewService(subscription.ServiceParams{DB: db, Node: node})
	enq := &fakeEnqueuer{}

	return &schedulerFixture{
		scheduler: NewScheduler(SchedulerParams{
			Briefs:   briefs,
			Prefs:    prefs,
			Subs:     subs,
			Enqueuer: enq,
			Config:   &config.Config{},
		}),
		briefs:   briefs,
		prefs:    prefs,
		subs:     subs,
		enqueuer: enq,
	}
}

func TestEnqueueDueBriefs(t *testing.T) {
	fix := newSchedulerFixture(t)
	ctx := context.Background()

	// subscribed with topics on the schedule itself
	_, err := fix.subs.Subscribe(ctx, "user-a", subscription.Standard)
	require.NoError(t, err)
	schedA, err := fix.briefs.Schedule(ctx, brief.ScheduleInput{
		UserID: "user-a", Name: "AI Brief", Topics: []string{"ai"},
	})
	require.NoError(t, err)

	// no subscription
	_, err = fix.briefs.Schedule(ctx, brief.ScheduleInput{
		UserID: "user-b", Name: "Orphan Brief", Topics: []string{"go"},
	})
	require.NoError(t, err)

	// subscribed but resolves to zero topics
	_, err = fix.subs.Subscribe(ctx, "user-c", subscription.Free)
	require.NoError(t, err)
	_, err = fix.briefs.Schedule(ctx, brief.ScheduleInput{UserID: "user-c", Name: "Empty Brief"})
	require.NoError(t, err)

	// subscribed, topics inherited from preferences
	_, err = fix.subs.Subscribe(ctx, "user-d", subscription.Premium)
	require.NoError(t, err)
	topics := []string{"climate"}
	_, err = fix.prefs.Update(ctx, "user-d", preference.Patch{Topics: &topics})
	require.NoError(t, err)
	schedD, err := fix.briefs.Schedule(ctx, brief.ScheduleInput{UserID: "user-d", Name: "Climate Brief"})
	require.NoError(t, err)

	day := time.Date(2026, 3, 16, 15, 0, 0, 0, time.UTC)
	require.NoError(t, fix.scheduler.EnqueueDueBriefs(ctx, day))

	tasks := fix.enqueuer.all()
	require.Len(t, tasks, 2)

	byUser := map[string]GenerateBriefPayload{}
	for _, task := range tasks {
		var payload GenerateBriefPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		byUser[payload.UserID] = payload
	}

	require.Equal(t, schedA.ID, byUser["user-a"].BriefID)
	require.Equal(t, []string{"ai"}, byUser["user-a"].Topics)
	require.Equal(t, "2026-03-16", byUser["user-a"].ScheduledDate)
	require.Equal(t, preference.DefaultTargetWords, byUser["user-a"].TargetWords)

	require.Equal(t, schedD.ID, byUser["user-d"].BriefID)
	require.Equal(t, []string{"climate"}, byUser["user-d"].Topics)
}

func TestEnqueueDueBriefsToleratesEnqueueFailure(t *testing.T) {
	fix := newSchedulerFixture(t)
	ctx := context.Background()

	_, err := fix.subs.Subscribe(ctx, "user-a", subscription.Standard)
	require.NoError(t, err)
	_, err = fix.briefs.Schedule(ctx, brief.ScheduleInput{
		UserID: "user-a", Name: "AI Brief", Topics: []string{"ai"},
	})
	require.NoError(t, err)

	fix.enqueuer.err = asynq.ErrTaskIDConflict
	require.NoError(t, fix.scheduler.EnqueueDueBriefs(ctx, time.Now().UTC()))
}

func TestNextRunTime(t *testing.T) {
	morning := time.Date(2026, 3, 16, 5, 0, 0, 0, time.UTC)
	next := nextRunTime(morning, 6, 0)
	require.Equal(t, time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC), next)

	evening := time.Date(2026, 3, 16, 7, 30, 0, 0, time.UTC)
	next = nextRunTime(evening, 6, 0)
	require.Equal(t, time.Date(2026, 3, 17, 6, 0, 0, 0, time.UTC), next)
}

func TestSchedulerStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &Scheduler{hour: 23, minute: 59, done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	go s.run(ctx)
	cancel()

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
