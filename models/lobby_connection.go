package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LobbyStatus string

const (
	LobbyStatusWaiting      LobbyStatus = "waiting"
	LobbyStatusMatched      LobbyStatus = "matched"
	LobbyStatusDisconnected LobbyStatus = "disconnected"
	LobbyStatusExpired      LobbyStatus = "expired"
)

// LobbyConnection records a join request for display and auditing. The live
// queue is in memory; this table is never read back to rebuild it.
type LobbyConnection struct {
	ID       string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SocketID string      `gorm:"index;not null;type:varchar(64)" json:"socket_id"`
	Username string      `gorm:"type:varchar(64)" json:"username"`
	Scenario string      `gorm:"type:varchar(8)" json:"scenario"`
	Status   LobbyStatus `gorm:"type:varchar(16);index;default:'waiting'" json:"status"`

	Timestamps
}

func (l *LobbyConnection) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
