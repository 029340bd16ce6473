// Package protocol defines the JSON frames exchanged with clients over the
// connection transport. Every frame is a single object with a "type"
// discriminator.
package protocol

import (
	"encoding/json"

	"github.com/tablehub/tablehub/internal/domain/adventure"
)

// Inbound frame types (client -> server).
const (
	TypeUserMessage        = "user_message"
	TypeSessionStart       = "session_start"
	TypeSessionResume      = "session_resume"
	TypePermissionResponse = "permission_response"
	TypeCreateGame         = "create_game"
	TypeJoinGame           = "join_game"
	TypeRejoinGame         = "rejoin_game"
	TypeStartGame          = "start_game"
	TypeLeaveGame          = "leave_game"
)

// Outbound frame types (server -> client).
const (
	TypeSessionStatus     = "session_status"
	TypeSessionCreated    = "session_created"
	TypeSessionHandle     = "session_handle"
	TypeDMPartial         = "dm_partial"
	TypeDMResponse        = "dm_response"
	TypeDMComplete        = "dm_complete"
	TypePermissionRequest = "permission_request"
	TypeGameCreated       = "game_created"
	TypeGameJoined        = "game_joined"
	TypeGameStarted       = "game_started"
	TypePlayerJoined      = "player_joined"
	TypePlayerLeft        = "player_left"
	TypePlayerDisconnect  = "player_disconnected"
	TypePlayerReconnect   = "player_reconnected"
	TypePlayerList        = "player_list"
	TypePlayerMessage     = "player_message"
	TypeHostChanged       = "host_changed"
	TypeHistory           = "history"
	TypeCombatStarted     = "combat_started"
	TypeTurnChanged       = "turn_changed"
	TypeCombatEnded       = "combat_ended"
	TypeError             = "error"
)

// Status is the value carried by session_status frames.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusThinking           Status = "thinking"
	StatusAwaitingPermission Status = "awaiting_permission"
	StatusDisconnected       Status = "disconnected"
	StatusError              Status = "error"
)

// Inbound is the union of all client frames. Fields not used by a type are
// left empty.
type Inbound struct {
	Type          string            `json:"type"`
	Text          string            `json:"text,omitempty"`
	Name          string            `json:"name,omitempty"`
	Code          string            `json:"code,omitempty"`
	ParticipantID string            `json:"participantId,omitempty"`
	CharacterID   string            `json:"characterId,omitempty"`
	ScenarioID    string            `json:"scenarioId,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	Handle        string            `json:"handle,omitempty"`
	Messages      []adventure.Entry `json:"messages,omitempty"`
	Token         string            `json:"correlationToken,omitempty"`
	Allowed       bool              `json:"allowed,omitempty"`
}

// PlayerInfo is one roster entry as rendered to clients.
type PlayerInfo struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	CharacterID   string `json:"characterId,omitempty"`
	CharacterName string `json:"characterName,omitempty"`
	IsHost        bool   `json:"isHost"`
	Connected     bool   `json:"connected"`
}

// TurnInfo is one entry of a combat turn order.
type TurnInfo struct {
	Name          string `json:"name"`
	CharacterID   string `json:"characterId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Initiative    int    `json:"initiative"`
}

// Frame is the union of all server frames.
type Frame struct {
	Type          string            `json:"type"`
	Status        Status            `json:"status,omitempty"`
	Text          string            `json:"text,omitempty"`
	Handle        string            `json:"handle,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	Code          string            `json:"code,omitempty"`
	ParticipantID string            `json:"participantId,omitempty"`
	IsHost        bool              `json:"isHost,omitempty"`
	Player        *PlayerInfo       `json:"player,omitempty"`
	Players       []PlayerInfo      `json:"players,omitempty"`
	TurnOrder     []TurnInfo        `json:"turnOrder,omitempty"`
	Active        *TurnInfo         `json:"active,omitempty"`
	Round         int               `json:"round,omitempty"`
	Token         string            `json:"correlationToken,omitempty"`
	ToolName      string            `json:"toolName,omitempty"`
	Description   string            `json:"description,omitempty"`
	Input         json.RawMessage   `json:"input,omitempty"`
	Messages      []adventure.Entry `json:"messages,omitempty"`
	Error         string            `json:"error,omitempty"`
}

func StatusFrame(s Status) Frame {
	return Frame{Type: TypeSessionStatus, Status: s}
}

func ErrorFrame(msg string) Frame {
	return Frame{Type: TypeError, Error: msg}
}
