package archive

import "time"

type eventRow struct {
	EventID    string    `gorm:"primaryKey;size:64"`
	EventType  string    `gorm:"size:191;not null;index"`
	SessionID  string    `gorm:"size:191;index"`
	Timestamp  float64   `gorm:"not null"`
	DataJSON   string    `gorm:"type:text"`
	ReceivedAt time.Time `gorm:"not null;index"`
}

func (eventRow) TableName() string {
	return "events"
}

func (r eventRow) toRecord() EventRecord {
	rec := EventRecord{
		EventID:    r.EventID,
		EventType:  r.EventType,
		SessionID:  r.SessionID,
		Timestamp:  r.Timestamp,
		ReceivedAt: r.ReceivedAt,
	}
	if r.DataJSON != "" {
		rec.DataJSON = []byte(r.DataJSON)
	}
	return rec
}

type sessionRow struct {
	SessionID   string    `gorm:"primaryKey;size:191"`
	FirstSeenAt time.Time `gorm:"not null"`
	LastEventAt time.Time `gorm:"not null"`
	EventCount  int64     `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

func (r sessionRow) toRecord() SessionRecord {
	return SessionRecord{
		SessionID:   r.SessionID,
		FirstSeenAt: r.FirstSeenAt,
		LastEventAt: r.LastEventAt,
		EventCount:  r.EventCount,
	}
}
