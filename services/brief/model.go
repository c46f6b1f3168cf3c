package brief

import (
	"time"

	"gorm.io/datatypes"

	"newsbrief-backend/services/preference"
)

// DefaultCronExpr fires once a day at 07:00.
const DefaultCronExpr = "0 7 * * *"

// Schedule configures one recurring brief. Topics, TargetWords and Locale are
// optional overrides; empty values inherit from the owner's preferences at
// generation time, not at write time.
type Schedule struct {
	ID          string                      `gorm:"column:id;primaryKey" json:"id"`
	UserID      string                      `gorm:"column:user_id;not null;uniqueIndex:idx_brief_user_slug" json:"user_id"`
	Name        string                      `gorm:"column:name;not null" json:"name"`
	Slug        string                      `gorm:"column:slug;not null;uniqueIndex:idx_brief_user_slug" json:"slug"`
	Code        string                      `gorm:"column:code" json:"code"`
	CronExpr    string                      `gorm:"column:cron_expr;not null" json:"cron_expr"`
	Topics      datatypes.JSONSlice[string] `gorm:"column:topics" json:"topics"`
	TargetWords int                         `gorm:"column:target_words" json:"target_words"`
	Locale      string                      `gorm:"column:locale" json:"locale"`
	Active      bool                        `gorm:"column:active;default:true" json:"active"`
	CreatedAt   time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (m *Schedule) TableName() string {
	return "brief_schedules"
}

// Params are the fully resolved inputs for one generation run.
type Params struct {
	Topics      []string
	TargetWords int
	Locale      string
}

// ResolveParams folds a schedule's overrides over the owner's preferences,
// then over the service defaults.
func ResolveParams(sched *Schedule, pref *preference.Preference) Params {
	out := Params{
		Topics:      sched.Topics,
		TargetWords: sched.TargetWords,
		Locale:      sched.Locale,
	}

	if len(out.Topics) == 0 && pref != nil {
		out.Topics = pref.Topics
	}
	if out.TargetWords <= 0 {
		if pref != nil && pref.TargetWords > 0 {
			out.TargetWords = pref.TargetWords
		} else {
			out.TargetWords = preference.DefaultTargetWords
		}
	}
	if out.Locale == "" {
		if pref != nil && pref.Locale != "" {
			out.Locale = pref.Locale
		} else {
			out.Locale = preference.DefaultLocale
		}
	}

	return out
}
