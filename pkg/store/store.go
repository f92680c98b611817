package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

// Event is one decoded live message as received from the channel.
type Event struct {
	ID         string    `gorm:"primaryKey;column:id" json:"id"`
	ReceivedAt time.Time `gorm:"column:received_at;not null;index:idx_live_events_received" json:"received_at"`
	Kind       string    `gorm:"column:kind;not null;default:'';index:idx_live_events_kind" json:"kind"`
	Payload    string    `gorm:"column:payload;not null" json:"payload"`
}

func (Event) TableName() string {
	return "live_events"
}

type EventFilter struct {
	Kind  string
	Since time.Time
	Limit int
}

func New(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(withPragmas(dsn)), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := db.AutoMigrate(&Event{}); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// withPragmas applies the connection pragmas through the DSN so every
// pooled connection gets them, not just the first.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AppendEvent(ctx context.Context, msg any, receivedAt time.Time) (*Event, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("store: encoding event: %w", err)
	}
	ev := &Event{
		ID:         uuid.NewString(),
		ReceivedAt: receivedAt.UTC(),
		Kind:       KindOf(msg),
		Payload:    string(payload),
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("store: saving event: %w", err)
	}
	return ev, nil
}

// RecentEvents returns events newest first.
func (s *Store) RecentEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	q := s.db.WithContext(ctx)
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if !f.Since.IsZero() {
		q = q.Where("received_at >= ?", f.Since.UTC())
	}
	q = q.Order("received_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var events []Event
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("store: listing events: %w", err)
	}
	return events, nil
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Event{}).Count(&n).Error
	return n, err
}

func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("received_at < ?", cutoff.UTC()).Delete(&Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: pruning events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// KindOf reads the "type" field of a decoded JSON object.
func KindOf(msg any) string {
	m, ok := msg.(map[string]any)
	if !ok {
		return ""
	}
	kind, _ := m["type"].(string)
	return kind
}
