// SPDX-License-Identifier: MIT

// Package model defines the persisted session record and its enums.
package model

import "time"

// ConnectionStatus is the client-visible connection state of a session.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Source is the deployment tier a session was created in. It describes the
// tier of origin, not the auth method.
type Source string

const (
	SourceWeb    Source = "web"
	SourceNative Source = "native"
)

// Session is the store source of truth for one tenant session.
//
// Invariants: IsConnected implies Status == StatusConnected; Status ==
// StatusDisconnected implies !IsConnected; ReconnectAttempts is monotonically
// non-decreasing within a lifecycle and resets to 0 on a connected
// transition.
type Session struct {
	SessionID         string           `json:"sessionId" bson:"sessionId" gorm:"primaryKey;column:session_id"`
	UserID            int64            `json:"userId" bson:"userId" gorm:"column:user_id"`
	PhoneNumber       string           `json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty" gorm:"column:phone_number;index"`
	IsConnected       bool             `json:"isConnected" bson:"isConnected" gorm:"column:is_connected;index:idx_sessions_source_connected,priority:2"`
	ConnectionStatus  ConnectionStatus `json:"connectionStatus" bson:"connectionStatus" gorm:"column:connection_status"`
	ReconnectAttempts int              `json:"reconnectAttempts" bson:"reconnectAttempts" gorm:"column:reconnect_attempts"`
	Source            Source           `json:"source" bson:"source" gorm:"column:source;index:idx_sessions_source_connected,priority:1"`
	Detected          bool             `json:"detected" bson:"detected" gorm:"column:detected"`
	UpdatedAt         time.Time        `json:"updatedAt" bson:"updatedAt" gorm:"column:updated_at;index:,sort:desc"`
}

// TableName pins the gorm table name.
func (Session) TableName() string { return "sessions" }

// Clone returns a copy of the record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// Patch is a partial update to a session record. Later patches win per key
// when merged. Boolean fields must be stored as bool, never strings or 0/1,
// so cross-store reads stay comparable.
type Patch map[string]any

// Patch keys. These are the wire names shared by every backing store.
const (
	FieldPhoneNumber       = "phoneNumber"
	FieldIsConnected       = "isConnected"
	FieldConnectionStatus  = "connectionStatus"
	FieldReconnectAttempts = "reconnectAttempts"
	FieldSource            = "source"
	FieldDetected          = "detected"
	FieldUpdatedAt         = "updatedAt"
)

// Merge folds other into p, later values winning per key.
func (p Patch) Merge(other Patch) Patch {
	if p == nil {
		p = Patch{}
	}
	for k, v := range other {
		p[k] = v
	}
	return p
}

// Clone returns a shallow copy of the patch.
func (p Patch) Clone() Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Apply writes the patch onto a session record. Unknown keys are ignored;
// values of the wrong type are dropped rather than coerced.
func (p Patch) Apply(s *Session) {
	for k, v := range p {
		switch k {
		case FieldPhoneNumber:
			if val, ok := v.(string); ok {
				s.PhoneNumber = val
			}
		case FieldIsConnected:
			if val, ok := v.(bool); ok {
				s.IsConnected = val
			}
		case FieldConnectionStatus:
			switch val := v.(type) {
			case ConnectionStatus:
				s.ConnectionStatus = val
			case string:
				s.ConnectionStatus = ConnectionStatus(val)
			}
		case FieldReconnectAttempts:
			switch val := v.(type) {
			case int:
				s.ReconnectAttempts = val
			case int64:
				s.ReconnectAttempts = int(val)
			}
		case FieldSource:
			switch val := v.(type) {
			case Source:
				s.Source = val
			case string:
				s.Source = Source(val)
			}
		case FieldDetected:
			if val, ok := v.(bool); ok {
				s.Detected = val
			}
		case FieldUpdatedAt:
			if val, ok := v.(time.Time); ok {
				s.UpdatedAt = val
			}
		}
	}
}
