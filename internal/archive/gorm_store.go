package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"agentdeck.local/projects/deck-dashboard/internal/ids"
	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

var ErrNotFound = errors.New("archive: not found")

// GormStore journals received events per session. It is write-mostly; the
// view-model never reads from it.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive store: %w", err)
	}

	store := &GormStore{db: gormDB}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate archive store: %w", err)
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	return s.db.AutoMigrate(&eventRow{}, &sessionRow{})
}

// RecordEvent appends one event and rolls the per-session aggregate.
func (s *GormStore) RecordEvent(ctx context.Context, event wire.Event) (EventRecord, error) {
	if strings.TrimSpace(string(event.EventType)) == "" {
		return EventRecord{}, fmt.Errorf("event_type is required")
	}

	now := time.Now().UTC()
	row := eventRow{
		EventID:    ids.New(),
		EventType:  string(event.EventType),
		SessionID:  event.SessionID,
		Timestamp:  event.Timestamp,
		DataJSON:   string(event.Data),
		ReceivedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		if event.SessionID == "" {
			return nil
		}

		var session sessionRow
		err := tx.Where("session_id = ?", event.SessionID).Take(&session).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("get session: %w", err)
			}
			session = sessionRow{
				SessionID:   event.SessionID,
				FirstSeenAt: now,
				LastEventAt: now,
				EventCount:  1,
			}
			if err := tx.Create(&session).Error; err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			return nil
		}

		session.LastEventAt = now
		session.EventCount++
		if err := tx.Save(&session).Error; err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return EventRecord{}, err
	}
	return row.toRecord(), nil
}

// ListEvents returns archived events for a session in arrival order.
func (s *GormStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]EventRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("received_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	records := make([]EventRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

func (s *GormStore) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionRecord{}, fmt.Errorf("session id is required")
	}

	var row sessionRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).Order("last_event_at desc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	records := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
