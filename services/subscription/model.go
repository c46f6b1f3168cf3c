package subscription

import "time"

type Plan string

var (
	Free     Plan = "free"
	Standard Plan = "standard"
	Premium  Plan = "premium"
)

func (p Plan) Valid() bool {
	switch p {
	case Free, Standard, Premium:
		return true
	default:
		return false
	}
}

type Status string

var (
	Active   Status = "active"
	PastDue  Status = "past_due"
	Canceled Status = "canceled"
	Expired  Status = "expired"
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case PastDue:
		return "past_due"
	case Canceled:
		return "canceled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

type Subscription struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	UserID             string     `gorm:"column:user_id;index;not null" json:"user_id"`
	Plan               Plan       `gorm:"column:plan;not null" json:"plan"`
	Status             Status     `gorm:"column:status;index;default:active" json:"status"`
	CurrentPeriodStart time.Time  `gorm:"column:current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `gorm:"column:current_period_end;index" json:"current_period_end"`
	CanceledAt         *time.Time `gorm:"column:canceled_at" json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (m *Subscription) TableName() string {
	return "subscriptions"
}
