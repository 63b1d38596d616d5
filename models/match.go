package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MatchStatus string

const (
	MatchStatusWaiting MatchStatus = "waiting"
	MatchStatusPlaying MatchStatus = "playing"
	MatchStatusAborted MatchStatus = "aborted"
)

// Match is the durable mirror of an in-memory session.
// UUID is the public session identifier; ID is the internal row key that
// players and actions hang off.
type Match struct {
	ID            string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UUID          string      `gorm:"uniqueIndex;not null;type:varchar(36)" json:"uuid"`
	Scenario      string      `gorm:"type:varchar(8)" json:"scenario"`
	State         Snapshot    `gorm:"serializer:json;type:text" json:"state"`
	Status        MatchStatus `gorm:"type:varchar(16);index;default:'waiting'" json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`

	Players []MatchPlayer `json:"players,omitempty" gorm:"foreignKey:MatchID"`

	Timestamps
}

func (m *Match) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// MatchPlayer is one seat of a match. Disconnected is a participant-level flag;
// it never changes the match status.
type MatchPlayer struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID        string     `gorm:"index;not null;type:varchar(36)" json:"match_id"`
	UserSocketID   string     `gorm:"index;type:varchar(64)" json:"user_socket_id"`
	Username       string     `gorm:"type:varchar(64)" json:"username"`
	PlayerNumber   int        `gorm:"not null" json:"player_number"`
	ReconnectToken string     `gorm:"type:varchar(36)" json:"-"`
	Disconnected   bool       `gorm:"default:false" json:"disconnected"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`

	Timestamps
}

func (p *MatchPlayer) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// MatchAction is append-only. Rows are never updated.
type MatchAction struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MatchID      string    `gorm:"index;not null;type:varchar(36)" json:"match_id"`
	PlayerNumber int       `json:"player_number"`
	ActionType   string    `gorm:"type:varchar(64)" json:"action_type"`
	Payload      string    `gorm:"type:text" json:"payload"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}
