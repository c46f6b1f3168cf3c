package execution

import (
	"time"

	"gorm.io/datatypes"
)

// DateLayout is the day-granularity format of ScheduledDate. Two runs of the
// same brief on the same calendar day share one execution record.
const DateLayout = "2006-01-02"

type Status string

var (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

func (s Status) String() string {
	switch s {
	case Pending, Running, Completed, Failed:
		return string(s)
	default:
		return ""
	}
}

// Terminal reports whether no further work is expected under this status.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Record tracks one brief generation attempt chain for a (user, brief, day)
// triple. The primary key doubles as the idempotency key: concurrent inserts
// of the same triple collapse into a single row at the store.
type Record struct {
	ExecutionID    string                      `gorm:"column:execution_id;primaryKey"`
	UserID         string                      `gorm:"column:user_id;index;not null"`
	BriefID        string                      `gorm:"column:brief_id;index;not null"`
	ScheduledDate  string                      `gorm:"column:scheduled_date;index;not null"`
	Status         Status                      `gorm:"column:status;index;default:'pending'"`
	Topics         datatypes.JSONSlice[string] `gorm:"column:topics"`
	RetryCount     int                         `gorm:"column:retry_count;default:0"`
	LastError      string                      `gorm:"column:last_error;type:text"`
	StartedAt      *time.Time                  `gorm:"column:started_at"`
	CompletedAt    *time.Time                  `gorm:"column:completed_at"`
	DurationMillis int64                       `gorm:"column:duration_millis;default:0"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Record) TableName() string { return "execution_records" }

// ExecutionID derives the idempotency key for a triple. The derivation is a
// plain concatenation so any process computes the same key without
// coordination.
func ExecutionID(userID, briefID, scheduledDate string) string {
	return userID + briefID + scheduledDate
}

// staleSince returns the instant staleness is measured from. Running records
// age from their start stamp; pending records never started, so they age from
// the last write.
func (r *Record) staleSince() time.Time {
	if r.Status == Running && r.StartedAt != nil {
		return *r.StartedAt
	}
	return r.UpdatedAt
}
