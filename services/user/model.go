package user

import "time"

type Status string

var (
	Active    Status = "active"
	Suspended Status = "suspended"
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

type User struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Email        string    `gorm:"column:email;uniqueIndex;not null" json:"email"`
	DisplayName  string    `gorm:"column:display_name" json:"display_name"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	// Timezone is stored for delivery scheduling; the daily sweep itself
	// runs on UTC calendar days.
	Timezone  string    `gorm:"column:timezone;default:UTC" json:"timezone"`
	Locale    string    `gorm:"column:locale;default:us" json:"locale"`
	Status    Status    `gorm:"column:status;default:active" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (m *User) TableName() string {
	return "users"
}
