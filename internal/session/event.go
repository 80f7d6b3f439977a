package session

import "time"

// noticeTimeout bounds delivery of one notice to the page and notifiers.
const noticeTimeout = 5 * time.Second

// Event types published by a session.
const (
	EventTitle   = "title"
	EventRefresh = "refresh"
	EventCrash   = "crash"
	EventClosed  = "closed"
)

// Event is a session state change delivered to subscribers such as the
// control API's event stream.
type Event struct {
	SessionID string  `json:"session_id"`
	Type      string  `json:"type"`
	Title     *string `json:"title,omitempty"`
	Message   string  `json:"message,omitempty"`
}
