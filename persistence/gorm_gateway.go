package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"hexbattle-server/models"
	"hexbattle-server/services"
)

var _ services.Gateway = (*GormGateway)(nil)

// GormGateway persists matches, players, actions and lobby records with GORM.
type GormGateway struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewGormGateway(db *gorm.DB) *GormGateway {
	return &GormGateway{DB: db, now: time.Now}
}

// Migrate creates or updates every table the gateway writes to.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (g *GormGateway) CreateSession(ctx context.Context, sessionID, scenario string, snapshot models.Snapshot) (string, error) {
	m := models.Match{
		UUID:          sessionID,
		Scenario:      scenario,
		State:         snapshot,
		Status:        models.MatchStatusWaiting,
		LastHeartbeat: g.now(),
	}
	if err := g.DB.WithContext(ctx).Create(&m).Error; err != nil {
		return "", fmt.Errorf("create match %s: %w", sessionID, err)
	}
	return m.ID, nil
}

func (g *GormGateway) UpdateSession(ctx context.Context, sessionID string, snapshot models.Snapshot, status models.MatchStatus) error {
	res := g.DB.WithContext(ctx).
		Model(&models.Match{}).
		Where("uuid = ?", sessionID).
		Select("State", "Status", "LastHeartbeat").
		Updates(&models.Match{State: snapshot, Status: status, LastHeartbeat: g.now()})
	if res.Error != nil {
		return fmt.Errorf("update match %s: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update match %s: %w", sessionID, gorm.ErrRecordNotFound)
	}
	return nil
}

func (g *GormGateway) TouchSession(ctx context.Context, sessionID string) error {
	err := g.DB.WithContext(ctx).
		Model(&models.Match{}).
		Where("uuid = ?", sessionID).
		Update("last_heartbeat", g.now()).Error
	if err != nil {
		return fmt.Errorf("heartbeat match %s: %w", sessionID, err)
	}
	return nil
}

func (g *GormGateway) AppendAction(ctx context.Context, internalID string, player int, actionType string, payload json.RawMessage) error {
	row := models.MatchAction{
		MatchID:      internalID,
		PlayerNumber: player,
		ActionType:   actionType,
		Payload:      string(payload),
	}
	if err := g.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append %s to match %s: %w", actionType, internalID, err)
	}
	return nil
}

func (g *GormGateway) CreateWaitingRecord(ctx context.Context, identity, username, scenario string) error {
	row := models.LobbyConnection{
		SocketID: identity,
		Username: username,
		Scenario: scenario,
		Status:   models.LobbyStatusWaiting,
	}
	if err := g.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create waiting record for %s: %w", identity, err)
	}
	return nil
}

// MarkWaitingStatus moves still-waiting lobby records of identities to status.
// Records that already left the waiting state keep their outcome.
func (g *GormGateway) MarkWaitingStatus(ctx context.Context, status models.LobbyStatus, identities ...string) error {
	if len(identities) == 0 {
		return nil
	}
	err := g.DB.WithContext(ctx).
		Model(&models.LobbyConnection{}).
		Where("socket_id IN ? AND status = ?", identities, models.LobbyStatusWaiting).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("mark %v %s: %w", identities, status, err)
	}
	return nil
}

func (g *GormGateway) CreateParticipant(ctx context.Context, internalID, identity, username string, player int, reconnectToken string) error {
	row := models.MatchPlayer{
		MatchID:        internalID,
		UserSocketID:   identity,
		Username:       username,
		PlayerNumber:   player,
		ReconnectToken: reconnectToken,
	}
	if err := g.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create player %d of match %s: %w", player, internalID, err)
	}
	return nil
}

func (g *GormGateway) MarkParticipantDisconnected(ctx context.Context, internalID, identity string) error {
	now := g.now()
	err := g.DB.WithContext(ctx).
		Model(&models.MatchPlayer{}).
		Where("match_id = ? AND user_socket_id = ?", internalID, identity).
		Updates(map[string]any{"disconnected": true, "last_seen": &now}).Error
	if err != nil {
		return fmt.Errorf("mark %s disconnected in match %s: %w", identity, internalID, err)
	}
	return nil
}

func (g *GormGateway) MarkParticipantReconnected(ctx context.Context, internalID, oldIdentity, newIdentity string) error {
	now := g.now()
	err := g.DB.WithContext(ctx).
		Model(&models.MatchPlayer{}).
		Where("match_id = ? AND user_socket_id = ?", internalID, oldIdentity).
		Updates(map[string]any{"user_socket_id": newIdentity, "disconnected": false, "last_seen": &now}).Error
	if err != nil {
		return fmt.Errorf("reattach %s in match %s: %w", newIdentity, internalID, err)
	}
	return nil
}

func (g *GormGateway) MarkSessionAborted(ctx context.Context, sessionID string) error {
	err := g.DB.WithContext(ctx).
		Model(&models.Match{}).
		Where("uuid = ?", sessionID).
		Update("status", models.MatchStatusAborted).Error
	if err != nil {
		return fmt.Errorf("abort match %s: %w", sessionID, err)
	}
	return nil
}

// LoadLiveSessions returns every match that was not aborted, with its players.
func (g *GormGateway) LoadLiveSessions(ctx context.Context) ([]models.Match, error) {
	var matches []models.Match
	err := g.DB.WithContext(ctx).
		Preload("Players").
		Where("status IN ?", []models.MatchStatus{models.MatchStatusWaiting, models.MatchStatusPlaying}).
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("load live matches: %w", err)
	}
	return matches, nil
}
