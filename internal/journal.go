package internal

import (
	"gorm.io/gorm"

	"github.com/dcrodman/rendezvous/internal/core/data"
	"github.com/dcrodman/rendezvous/internal/rendezvous"
)

// sessionJournal persists connection lifecycle events as session history.
type sessionJournal struct {
	db *gorm.DB
}

func (j *sessionJournal) Record(e rendezvous.Event) error {
	return data.RecordSessionEvent(j.db, &data.SessionEvent{
		Server:     e.Server,
		Client:     e.Client,
		Kind:       string(e.Kind),
		RemoteAddr: e.RemoteAddr,
		Detail:     e.Detail,
		OccurredAt: e.Time,
	})
}
