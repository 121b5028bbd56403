package bsd

import "time"

type EventKind string

const (
	EventCreated                 EventKind = "Created"
	EventUpdated                 EventKind = "Updated"
	EventDeleted                 EventKind = "Deleted"
	EventSigned                  EventKind = "Signed"
	EventRevisionRequestCreated  EventKind = "RevisionRequestCreated"
	EventRevisionRequestAccepted EventKind = "RevisionRequestAccepted"
	EventRevisionRequestRefused  EventKind = "RevisionRequestRefused"
	EventRevisionRequestCanceled EventKind = "RevisionRequestCancelled"
)

// EventType returns the family-prefixed tag, e.g. "BsdaSigned".
func EventType(family Family, kind EventKind) string {
	return family.EventPrefix() + string(kind)
}

const SystemActor = "system"

// Event is an immutable audit entry. Seq orders the entries of one stream.
type Event struct {
	ID        string         `json:"id"`
	StreamID  string         `json:"streamId"`
	Seq       int64          `json:"seq"`
	Actor     string         `json:"actor"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
