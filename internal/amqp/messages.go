package amqp

import (
	"encoding/json"
	"time"
)

// OccurrenceSyncMessage announces one completed synchronization pass.
// Consumers interested in the new occurrence set fetch it from the database;
// the message only carries the summary.
type OccurrenceSyncMessage struct {
	DefinitionID int64     `json:"definition_id"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Deleted      int       `json:"deleted"`
	SyncedAt     time.Time `json:"synced_at"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewOccurrenceSyncMessage creates a sync announcement stamped with now.
func NewOccurrenceSyncMessage(definitionID int64, created, updated, deleted int, syncedAt time.Time) *OccurrenceSyncMessage {
	return &OccurrenceSyncMessage{
		DefinitionID: definitionID,
		Created:      created,
		Updated:      updated,
		Deleted:      deleted,
		SyncedAt:     syncedAt,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *OccurrenceSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OccurrenceSyncMessageFromJSON creates a message from JSON bytes
func OccurrenceSyncMessageFromJSON(data []byte) (*OccurrenceSyncMessage, error) {
	var msg OccurrenceSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
