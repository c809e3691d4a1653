package api

import "github.com/pulseworks/surveyd/internal/services"

// Store is the full persistence surface of the service: the union of the narrow
// interfaces each service consumes. Implemented by the in-memory store here and by
// the SQLite store in internal/db.
type Store interface {
	services.SurveyStore
	services.ManagementStore
	services.ResponseStore
	services.ReminderStore
	services.AuthStore
}

var _ Store = (*memoryStore)(nil)
