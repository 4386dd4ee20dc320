package persistence

// Schema mirrors spec.md §4.2 bit-exact: table and column names are
// part of the contract for downstream analysis tooling, so the gorm
// tags pin them explicitly instead of relying on gorm's default
// snake_case inference (which would already match here, but pinning
// makes the contract visible in the struct itself).

// UserRow is the users table.
type UserRow struct {
	ID              string `gorm:"column:id;primaryKey"`
	ExperimentGroup string `gorm:"column:experiment_group;not null"`
	CreatedAt       int64  `gorm:"column:created_at;not null"`
}

func (UserRow) TableName() string { return "users" }

// ReactionLogRow is one row of the reactions_log table: a flattened
// Sample with session_id and video_time carried as opaque/optional tags.
type ReactionLogRow struct {
	ID                int64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID            string   `gorm:"column:user_id;not null"`
	Timestamp         int64    `gorm:"column:timestamp;not null"`
	IsSmiling         bool     `gorm:"column:is_smiling"`
	IsSurprised       bool     `gorm:"column:is_surprised"`
	IsConcentrating   bool     `gorm:"column:is_concentrating"`
	IsHandUp          bool     `gorm:"column:is_hand_up"`
	NodCount          int      `gorm:"column:nod_count"`
	SwayVerticalCount int      `gorm:"column:sway_vertical_count"`
	SwayHorizontalCount int    `gorm:"column:sway_horizontal_count"`
	ShakeHeadCount    int      `gorm:"column:shake_head_count"`
	CheerCount        int      `gorm:"column:cheer_count"`
	ClapCount         int      `gorm:"column:clap_count"`
	VideoTime         *float64 `gorm:"column:video_time"`
	SessionID         *string  `gorm:"column:session_id"`
}

func (ReactionLogRow) TableName() string { return "reactions_log" }

// EffectLogRow is one row of the effects_log table.
type EffectLogRow struct {
	ID          int64    `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp   int64    `gorm:"column:timestamp;not null"`
	EffectType  string   `gorm:"column:effect_type;not null"`
	Intensity   float64  `gorm:"column:intensity;not null"`
	DurationMS  int64    `gorm:"column:duration_ms;not null"`
	SessionID   *string  `gorm:"column:session_id"`
	VideoTime   *float64 `gorm:"column:video_time"`
	ActiveUsers *int     `gorm:"column:active_users"`
}

func (EffectLogRow) TableName() string { return "effects_log" }

// SessionRow is the sessions table.
type SessionRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	UserID      string `gorm:"column:user_id;not null"`
	VideoID     string `gorm:"column:video_id;not null"`
	StartedAt   int64  `gorm:"column:started_at;not null"`
	CompletedAt *int64 `gorm:"column:completed_at"`
}

func (SessionRow) TableName() string { return "sessions" }
