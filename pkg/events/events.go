package events

import (
	"time"
)

type Kind string

const (
	KindQR            Kind = "qr"
	KindReady         Kind = "ready"
	KindAuthenticated Kind = "authenticated"
	KindAuthFailure   Kind = "auth_failure"
	KindDisconnected  Kind = "disconnected"
	KindStatusChange  Kind = "status_change"
	KindMessage       Kind = "message"
	KindMessageCreate Kind = "message_create"
	KindMessageAck    Kind = "message_ack"
	KindMessageRevoke Kind = "message_revoke_everyone"
	KindGroupJoin     Kind = "group_join"
	KindGroupLeave    Kind = "group_leave"
	KindGroupUpdate   Kind = "group_update"
	KindCall          Kind = "call"
)

// Kinds lists every event kind an instance webhook can subscribe to.
func Kinds() []Kind {
	return []Kind{
		KindQR, KindReady, KindAuthenticated, KindAuthFailure,
		KindDisconnected, KindStatusChange,
		KindMessage, KindMessageCreate, KindMessageAck, KindMessageRevoke,
		KindGroupJoin, KindGroupLeave, KindGroupUpdate, KindCall,
	}
}

// Event is one gateway occurrence tied to a single instance. Events are
// ephemeral: the bus fans them out and drops them, nothing is persisted here.
type Event struct {
	Kind       Kind                   `json:"kind"`
	InstanceID string                 `json:"instance_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

func New(kind Kind, instanceID string, data map[string]interface{}) Event {
	return Event{
		Kind:       kind,
		InstanceID: instanceID,
		Timestamp:  time.Now(),
		Data:       data,
	}
}
