package store

import (
	"errors"

	"meetscribe/pkg/domain"
)

// ErrNotConnected is returned when a store call is made before the
// underlying connection pool has been initialized. Calls fail fast rather
// than blocking or retrying.
var ErrNotConnected = errors.New("store not connected")

// Store defines persistence for users, sessions, and chat history.
//
// SaveSession accepts a session with any subset of optional fields
// populated; the store performs no cross-field validation. Chat history is
// append-only; there is no update or delete path.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// sessions
	SaveSession(domain.Session) (string, error)
	GetSession(id string) (domain.Session, bool, error)
	ListSessionsByOwner(ownerID string) ([]domain.Session, error)

	// chat history
	AppendChatMessage(domain.ChatMessage) error
	ListChatMessages(sessionID string, limit int) ([]domain.ChatMessage, error)
}
