package models

import "time"

// ChatMessage is the local record of a message shown in the chat UI.
type ChatMessage struct {
	ID                int64      `json:"id"`
	ChatID            int64      `json:"chat_id"`
	ExternalMessageID string     `json:"external_message_id,omitempty"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
}
