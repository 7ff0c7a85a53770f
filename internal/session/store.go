// Package session keeps per-window session values in SQLite, scoped to one
// browser run, and reports values changed by other processes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dgnsrekt/window_titler/internal/event"
	"github.com/dgnsrekt/window_titler/internal/host"
)

// entry is one stored value. Removed values stay as tombstones so other
// processes can observe the removal.
type entry struct {
	BrowserSession string `gorm:"primaryKey;size:64"`
	WindowID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Key            string `gorm:"column:value_key;primaryKey;size:64"`
	Value          string `gorm:"not null;default:''"`
	Removed        bool   `gorm:"not null;default:false"`
	Origin         string `gorm:"not null;size:36"`
	UpdatedAt      int64  `gorm:"not null;index;autoUpdateTime:false"`
}

func (entry) TableName() string { return "window_values" }

// Config configures a Store.
type Config struct {
	Path string
	// BrowserSession scopes every row; values of other sessions are invisible.
	BrowserSession string
	// PollInterval is how often Run looks for values written elsewhere.
	PollInterval time.Duration
	// Debug logs every SQL statement.
	Debug bool
}

// Store implements host.SessionStore on SQLite.
type Store struct {
	db       *gorm.DB
	session  string
	origin   string
	interval time.Duration

	mu     sync.Mutex
	cursor int64
	last   int64

	changed event.Event[host.WindowValueChanged]
}

var _ host.SessionStore = (*Store)(nil)

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.BrowserSession == "" {
		return nil, errors.New("session: browser session is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}

	level := logger.Warn
	if cfg.Debug {
		level = logger.Info
	}
	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(level)})
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("session: migrate: %w", err)
	}

	s := &Store{
		db:       db,
		session:  cfg.BrowserSession,
		origin:   uuid.NewString(),
		interval: cfg.PollInterval,
	}
	s.changed.SetName("window_value_changed")
	// Only changes made after opening are reported as external.
	var newest int64
	if err := db.Model(&entry{}).
		Where("browser_session = ?", s.session).
		Select("COALESCE(MAX(updated_at), 0)").
		Scan(&newest).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("session: %w", err)
	}
	s.cursor = newest
	slog.Info("session store opened", "path", cfg.Path, "browser_session", s.session, "origin", s.origin)
	return s, nil
}

// Origin identifies the writes of this process.
func (s *Store) Origin() string { return s.origin }

// BrowserSession returns the session the store is scoped to.
func (s *Store) BrowserSession() string { return s.session }

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) GetWindowValue(ctx context.Context, windowID host.WindowID, key string) (json.RawMessage, bool, error) {
	var e entry
	err := s.db.WithContext(ctx).
		Where("browser_session = ? AND window_id = ? AND value_key = ?", s.session, int64(windowID), key).
		Take(&e).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("session: get %s: %w", key, err)
	case e.Removed:
		return nil, false, nil
	}
	return json.RawMessage(e.Value), true, nil
}

func (s *Store) SetWindowValue(ctx context.Context, windowID host.WindowID, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("session: set %s: invalid json", key)
	}
	if err := s.put(ctx, windowID, key, string(value), false); err != nil {
		return fmt.Errorf("session: set %s: %w", key, err)
	}
	s.changed.Fire(host.WindowValueChanged{WindowID: windowID, Key: key, Value: value})
	return nil
}

func (s *Store) RemoveWindowValue(ctx context.Context, windowID host.WindowID, key string) error {
	if err := s.put(ctx, windowID, key, "", true); err != nil {
		return fmt.Errorf("session: remove %s: %w", key, err)
	}
	s.changed.Fire(host.WindowValueChanged{WindowID: windowID, Key: key})
	return nil
}

func (s *Store) OnWindowValueChanged(fn func(host.WindowValueChanged)) func() {
	return s.changed.Subscribe(fn)
}

func (s *Store) put(ctx context.Context, windowID host.WindowID, key, value string, removed bool) error {
	e := entry{
		BrowserSession: s.session,
		WindowID:       int64(windowID),
		Key:            key,
		Value:          value,
		Removed:        removed,
		Origin:         s.origin,
		UpdatedAt:      s.stamp(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "browser_session"}, {Name: "window_id"}, {Name: "value_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "removed", "origin", "updated_at"}),
	}).Create(&e).Error
}

// stamp returns a strictly increasing timestamp for this process.
func (s *Store) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}

// Poll reports rows written by other processes since the previous poll and
// returns how many were found.
func (s *Store) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	var rows []entry
	err := s.db.WithContext(ctx).
		Where("browser_session = ? AND updated_at > ?", s.session, cursor).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("session: poll: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	s.cursor = max(s.cursor, rows[len(rows)-1].UpdatedAt)
	s.mu.Unlock()

	n := 0
	for _, e := range rows {
		if e.Origin == s.origin {
			continue
		}
		ev := host.WindowValueChanged{WindowID: host.WindowID(e.WindowID), Key: e.Key, External: true}
		if !e.Removed {
			ev.Value = json.RawMessage(e.Value)
		}
		s.changed.Fire(ev)
		n++
	}
	return n, nil
}

// Run polls until ctx is done.
func (s *Store) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Poll(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("session poll failed", "error", err)
				}
				continue
			}
			if n > 0 {
				slog.Debug("session external changes", "count", n)
			}
		}
	}
}

// PruneOtherSessions deletes the rows of earlier browser runs.
func (s *Store) PruneOtherSessions(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("browser_session <> ?", s.session).Delete(&entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("session: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}
