package runner

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"newsbrief-backend/pkg/taskname"
	"newsbrief-backend/services/execution"
)

type GenerateBriefPayload struct {
	UserID        string   `json:"user_id"`
	BriefID       string   `json:"brief_id"`
	ScheduledDate string   `json:"scheduled_date"`
	Topics        []string `json:"topics"`
	TargetWords   int      `json:"target_words"`
	Locale        string   `json:"locale"`
	TraceID       string   `json:"trace_id,omitempty"`
}

// NewGenerateBriefTask builds one generation task. The asynq task id reuses
// the execution key, so a double enqueue for the same (user, brief, day)
// collapses in the queue before the tracker ever sees it.
func NewGenerateBriefTask(p GenerateBriefPayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(taskname.BriefGenerate, payload,
		asynq.TaskID(execution.ExecutionID(p.UserID, p.BriefID, p.ScheduledDate)),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("default"),
	)
}

func NewCacheCleanupTask() *asynq.Task {
	return asynq.NewTask(taskname.CacheCleanupExpired, nil,
		asynq.MaxRetry(1),
		asynq.Queue("low"),
	)
}

func NewExecutionCleanupTask() *asynq.Task {
	return asynq.NewTask(taskname.ExecutionCleanupExpired, nil,
		asynq.MaxRetry(1),
		asynq.Queue("low"),
	)
}
