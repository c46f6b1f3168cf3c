package preference

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DefaultTargetWords = 200
	DefaultLocale      = "us"

	// MaxTopics bounds the per-user topic list.
	MaxTopics = 20
)

// Preference holds one user's brief defaults. The primary key is the owning
// user id, one row per user, created lazily on first read. Version guards
// concurrent partial updates.
type Preference struct {
	ID           string                      `gorm:"column:id;primaryKey" json:"user_id"`
	Topics       datatypes.JSONSlice[string] `gorm:"column:topics" json:"topics"`
	TargetWords  int                         `gorm:"column:target_words;default:200" json:"target_words"`
	Locale       string                      `gorm:"column:locale;default:us" json:"locale"`
	EmailEnabled bool                        `gorm:"column:email_enabled;default:true" json:"email_enabled"`
	Version      int64                       `gorm:"column:version;default:0" json:"version"`
	CreatedAt    time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (m *Preference) TableName() string {
	return "preferences"
}

func (m *Preference) GetVersion() int64 {
	return m.Version
}

func (m *Preference) SetVersion(v int64) {
	m.Version = v
}
