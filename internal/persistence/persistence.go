// Package persistence implements C2: append-only writes to the four
// schema tables in spec.md §4.2, backed by gorm the way
// helixml/helix's api/pkg/store wraps *gorm.DB behind a small typed
// Store — here scoped to the four append operations the Aggregator,
// Connection, and sync relay actually call.
//
// Every method is best-effort: on failure it logs to the operator
// channel (zerolog) and returns the error so the caller can decide
// whether to log again, but no caller in this codebase ever aborts a
// Connection or halts the Aggregator because of it (spec.md §4.2,
// §7's "Persistence errors" row).
package persistence

import (
	"fmt"
	"strings"

	"github.com/Mizuir0/live-reaction-system/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the persistence handle. One Store per process; it owns
// the durable log for the life of the service (spec.md §3 "Ownership").
type Store struct {
	db   *gorm.DB
	path string // resolved DSN/path, surfaced on GET /
}

// New opens the dialect selected by databaseURL and runs AutoMigrate
// against the four schema structs. Empty, "file:"-prefixed, or
// ".db"-suffixed URLs open sqlite; "postgres://" URLs open Postgres —
// spec.md §9's "file-backed local store or networked relational store,
// schema unchanged either way".
func New(databaseURL string) (*Store, error) {
	dialector, path, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening persistence store: %w", err)
	}

	if err := db.AutoMigrate(&UserRow{}, &ReactionLogRow{}, &EffectLogRow{}, &SessionRow{}); err != nil {
		return nil, fmt.Errorf("migrating persistence schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func dialectorFor(databaseURL string) (gorm.Dialector, string, error) {
	switch {
	case databaseURL == "":
		return sqlite.Open("reaction_hub.db"), "reaction_hub.db", nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.Open(databaseURL), databaseURL, nil
	case strings.HasPrefix(databaseURL, "file:"):
		path := strings.TrimPrefix(databaseURL, "file:")
		return sqlite.Open(path), path, nil
	default:
		return sqlite.Open(databaseURL), databaseURL, nil
	}
}

// Path returns the resolved persistence location, for GET /.
func (s *Store) Path() string {
	return s.path
}

// EnsureUserRow inserts a users row the first time a user_id is seen.
// Called at Connection handshake, before any reactions_log row for
// that user, so a reactions_log row is never orphaned (spec.md §4.2
// "Foreign key semantics are advisory").
func (s *Store) EnsureUserRow(userID string, group types.ExperimentGroup) error {
	row := UserRow{
		ID:              userID,
		ExperimentGroup: string(group),
		CreatedAt:       types.NowMS(),
	}
	// first-insert-wins: a duplicate id is not an error, it's the
	// idempotence law "ensure_user called N times produces one row".
	err := s.db.Where(UserRow{ID: userID}).FirstOrCreate(&row).Error
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to ensure user row")
	}
	return err
}

// LogReaction appends one reactions_log row for a Sample.
func (s *Store) LogReaction(sample types.Sample) error {
	row := ReactionLogRow{
		UserID:              sample.UserID,
		Timestamp:           sample.ServerReceiveMS,
		IsSmiling:           sample.StateActive(types.StateIsSmiling),
		IsSurprised:         sample.StateActive(types.StateIsSurprised),
		IsConcentrating:     sample.StateActive(types.StateIsConcentrating),
		IsHandUp:            sample.StateActive(types.StateIsHandUp),
		NodCount:            sample.EventCount(types.EventNod),
		SwayVerticalCount:   sample.EventCount(types.EventSwayVertical),
		SwayHorizontalCount: sample.EventCount(types.EventSwayHorizontal),
		ShakeHeadCount:      sample.EventCount(types.EventShakeHead),
		CheerCount:          sample.EventCount(types.EventCheer),
		ClapCount:           sample.EventCount(types.EventClap),
		VideoTime:           sample.VideoTime,
		SessionID:           sample.SessionID,
	}
	if err := s.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("user_id", sample.UserID).Msg("failed to log reaction")
		return err
	}
	return nil
}

// LogEffect appends one effects_log row. Called before Hub.Broadcast
// so the decision survives even if the subsequent broadcast fails
// (spec.md §4.5 step 6).
func (s *Store) LogEffect(effect types.Effect) error {
	row := EffectLogRow{
		Timestamp:  effect.ServerSendMS,
		EffectType: string(effect.EffectType),
		Intensity:  effect.Intensity,
		DurationMS: effect.DurationMS,
		SessionID:  effect.SessionID,
		VideoTime:  effect.VideoTime,
	}
	if effect.Debug != nil {
		activeUsers := effect.Debug.ActiveUsers
		row.ActiveUsers = &activeUsers
	}
	if err := s.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("effect_type", string(effect.EffectType)).Msg("failed to log effect")
		return err
	}
	return nil
}

// SessionCreate appends a sessions row, started now.
func (s *Store) SessionCreate(sessionID, userID, videoID string) error {
	row := SessionRow{
		ID:        sessionID,
		UserID:    userID,
		VideoID:   videoID,
		StartedAt: types.NowMS(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to create session")
		return err
	}
	return nil
}

// SessionComplete stamps completed_at on an existing session row.
func (s *Store) SessionComplete(sessionID string, completedMS int64) error {
	err := s.db.Model(&SessionRow{}).Where("id = ?", sessionID).Update("completed_at", completedMS).Error
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to complete session")
	}
	return err
}

// TableCounts returns row counts per table, for GET /debug/database.
func (s *Store) TableCounts() (map[string]int64, error) {
	counts := make(map[string]int64)
	for name, model := range map[string]interface{}{
		"users":         &UserRow{},
		"reactions_log": &ReactionLogRow{},
		"effects_log":   &EffectLogRow{},
		"sessions":      &SessionRow{},
	} {
		var n int64
		if err := s.db.Model(model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

// RecentReactions returns the most recent reactions_log rows, newest first.
func (s *Store) RecentReactions(limit int) ([]ReactionLogRow, error) {
	var rows []ReactionLogRow
	err := s.db.Order("id desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// RecentEffects returns the most recent effects_log rows, newest first.
func (s *Store) RecentEffects(limit int) ([]EffectLogRow, error) {
	var rows []EffectLogRow
	err := s.db.Order("id desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// Close releases the underlying database handle, flushing any
// driver-side buffers, on graceful shutdown.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
