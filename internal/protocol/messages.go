// Package protocol defines the WebSocket message types exchanged between the
// game server (the host) and the moderation sidecar. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. The host streams player events in; the sidecar answers with
// moderation verdicts and deliveries.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Host -> Sidecar message types.
const (
	TypeJoin             = "join"
	TypeLeave            = "leave"
	TypeChat             = "chat"
	TypeCommand          = "command"
	TypeEmote            = "emote"
	TypeWhisper          = "whisper"
	TypeReply            = "reply"
	TypeSetCosmetic      = "set_cosmetic"
	TypeRemoveCosmetic   = "remove_cosmetic"
	TypeReadCosmetics    = "read_cosmetics"
	TypePermissionUpdate = "permission_update"
	TypePermissionList   = "permission_list"
	TypeAccountDelete    = "account_delete"
	TypePing             = "ping"
)

// Sidecar -> Host message types.
const (
	TypeBroadcast   = "broadcast"
	TypeDirect      = "direct"
	TypeWarn        = "warn"
	TypeKick        = "kick"
	TypeSuppress    = "suppress"
	TypeAdminResult = "admin_result"
	TypeError       = "error"
	TypePong        = "pong"
)

// ---------------------------------------------------------------------------
// Shared structs
// ---------------------------------------------------------------------------

// GroupInfo is the host role a player currently holds, including the role's
// chat appearance and its permission list.
type GroupInfo struct {
	Name        string   `json:"name"`
	Prefix      string   `json:"prefix,omitempty"`
	Suffix      string   `json:"suffix,omitempty"`
	Color       string   `json:"color,omitempty"` // "r,g,b"
	Permissions []string `json:"permissions,omitempty"`
}

// PlayerRef identifies the player behind an event. The host embeds it in
// every player-originated message so the sidecar never has to ask for state.
type PlayerRef struct {
	Slot          int       `json:"slot"`
	Name          string    `json:"name"`
	UserID        int64     `json:"user_id,omitempty"`
	Authenticated bool      `json:"authenticated,omitempty"`
	Group         GroupInfo `json:"group"`
}

// ---------------------------------------------------------------------------
// Host -> Sidecar message structs
// ---------------------------------------------------------------------------

// JoinMsg is sent when a player occupies a connection slot.
type JoinMsg struct {
	Type   string    `json:"type"`
	Player PlayerRef `json:"player"`
}

// LeaveMsg is sent when a player vacates a connection slot.
type LeaveMsg struct {
	Type string `json:"type"`
	Slot int    `json:"slot"`
}

// ChatEventMsg carries one chat message for moderation.
type ChatEventMsg struct {
	Type   string    `json:"type"`
	Player PlayerRef `json:"player"`
	Text   string    `json:"text"`
}

// CommandEventMsg reports a command invocation for spam accounting. The host
// executes the command itself unless the sidecar answers with warn or kick.
type CommandEventMsg struct {
	Type   string    `json:"type"`
	Player PlayerRef `json:"player"`
	Name   string    `json:"name"` // command name without the leading slash
	Arg    string    `json:"arg"`  // remainder of the command line
}

// EmoteEventMsg carries a /me action line.
type EmoteEventMsg struct {
	Type   string    `json:"type"`
	Player PlayerRef `json:"player"`
	Text   string    `json:"text"`
}

// WhisperEventMsg carries a private message; the host resolves the target
// name to a slot before forwarding.
type WhisperEventMsg struct {
	Type   string    `json:"type"`
	Player PlayerRef `json:"player"`
	Target PlayerRef `json:"target"`
	Text   string    `json:"text"`
}

// ReplyEventMsg carries a /reply to the sender's last whisper counterpart,
// which the sidecar tracks.
type ReplyEventMsg struct {
	Type   string    `json:"type"`
	Player PlayerRef `json:"player"`
	Text   string    `json:"text"`
}

// SetCosmeticMsg sets one cosmetic field on a target account. Field is one
// of "color", "prefix", "suffix".
type SetCosmeticMsg struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"` // request correlation id
	Player PlayerRef `json:"player"`
	Target string    `json:"target"` // account name; empty means self
	Field  string    `json:"field"`
	Value  string    `json:"value"`
}

// RemoveCosmeticMsg clears cosmetic fields on a target account. Field is one
// of "color", "prefix", "suffix", or "all".
type RemoveCosmeticMsg struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Player PlayerRef `json:"player"`
	Target string    `json:"target"`
	Field  string    `json:"field"`
}

// ReadCosmeticsMsg asks for a target account's stored cosmetics.
type ReadCosmeticsMsg struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Player PlayerRef `json:"player"`
	Target string    `json:"target"`
}

// PermissionUpdateMsg grants, denies, or revokes one permission override on
// a target account. Action is one of "grant", "deny", "revoke".
type PermissionUpdateMsg struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Player     PlayerRef `json:"player"`
	Target     string    `json:"target"`
	Action     string    `json:"action"`
	Permission string    `json:"permission"`
}

// PermissionListMsg asks for a target account's permission overrides.
type PermissionListMsg struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Player PlayerRef `json:"player"`
	Target string    `json:"target"`
}

// AccountDeleteMsg tells the sidecar an account was deleted on the host so
// its moderation record can be purged.
type AccountDeleteMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// PingMsg is a host-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Sidecar -> Host message structs
// ---------------------------------------------------------------------------

// BroadcastMsg is a formatted chat line the host should show to everyone.
type BroadcastMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Color   string `json:"color"` // "r,g,b"
}

// DirectMsg is a line for a single connection slot (whisper deliveries,
// mute notices, spam warnings).
type DirectMsg struct {
	Type    string `json:"type"`
	Slot    int    `json:"slot"`
	Message string `json:"message"`
	Color   string `json:"color,omitempty"`
}

// WarnMsg tells the host a player's event was suppressed for spamming.
type WarnMsg struct {
	Type    string `json:"type"`
	Slot    int    `json:"slot"`
	Message string `json:"message"`
}

// KickMsg tells the host to drop a connection.
type KickMsg struct {
	Type   string `json:"type"`
	Slot   int    `json:"slot"`
	Reason string `json:"reason"`
}

// SuppressMsg tells the host a command invocation must not be executed.
type SuppressMsg struct {
	Type string `json:"type"`
	Slot int    `json:"slot"`
}

// AdminResultMsg answers an admin request, correlated by ID. Lines carry
// human-readable output for the requesting player.
type AdminResultMsg struct {
	Type  string   `json:"type"`
	ID    string   `json:"id"`
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
	Lines []string `json:"lines,omitempty"`
}

// ErrorMsg reports a malformed or unprocessable host message.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a host ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Envelope and helpers
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ParseHostMessage parses raw WebSocket bytes into a typed host message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// sidecar-only message types.
func ParseHostMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChat:
		var m ChatEventMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCommand:
		var m CommandEventMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEmote:
		var m EmoteEventMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWhisper:
		var m WhisperEventMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReply:
		var m ReplyEventMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetCosmetic:
		var m SetCosmeticMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRemoveCosmetic:
		var m RemoveCosmeticMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReadCosmetics:
		var m ReadCosmeticsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePermissionUpdate:
		var m PermissionUpdateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePermissionList:
		var m PermissionListMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAccountDelete:
		var m AccountDeleteMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown host message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewSidecarMessage creates a JSON-encoded byte slice for a sidecar message.
// The msgType is injected into the payload under the "type" key.
func NewSidecarMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal sidecar message: %w", err)
	}
	return out, nil
}
