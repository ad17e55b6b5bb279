package data

import (
	"time"

	"gorm.io/gorm"
)

// SessionEvent is one lifecycle transition of a named client on a server:
// accepted, reconnected, lost, disconnected or renamed.
type SessionEvent struct {
	ID uint64 `gorm:"primaryKey"`

	Server     string `gorm:"index:idx_session_event_client; not null"`
	Client     string `gorm:"index:idx_session_event_client; not null"`
	Kind       string `gorm:"not null"`
	RemoteAddr string
	Detail     string

	OccurredAt time.Time `gorm:"not null"`
}

// RecordSessionEvent persists event to the database.
func RecordSessionEvent(db *gorm.DB, event *SessionEvent) error {
	return db.Create(event).Error
}

// FindSessionEvents returns the history of client on server, oldest first.
// An empty client returns the history of every client on the server.
func FindSessionEvents(db *gorm.DB, server, client string) ([]SessionEvent, error) {
	query := db.Where("server = ?", server)
	if client != "" {
		query = query.Where("client = ?", client)
	}

	var events []SessionEvent
	if err := query.Order("occurred_at, id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
