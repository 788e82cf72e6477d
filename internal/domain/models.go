// Package domain defines the persistence models for the local chat store and
// the shared value types exchanged between the sync, cloud, and HTTP layers.
// Local rows are mapped with GORM; cloud documents live in internal/cloud.
package domain

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message kinds. Assistant content is carried as an explicit tagged variant
// rather than a JSON envelope sniffed out of the content string.
const (
	KindText            = "text"
	KindImageRequest    = "image-request"
	KindImageGenerating = "image-generating"
	KindImageResponse   = "image-response"
	KindError           = "error"
)

// Session identifies the authenticated caller. A nil *Session means the
// request runs in guest mode: the local store is the only storage target.
// Sessions are passed explicitly through every service call so tests can run
// multiple simulated users side by side.
type Session struct {
	UserID string
}

// Authenticated reports whether s carries a usable user identity.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// Chat is a conversation row in the local store. Every chat has a
// device-local numeric identity (LocalID) and, once mirrored to the cloud
// store, a server-assigned RemoteID. The pair (Synced, RemoteID) moves in
// lockstep: an unsynced chat never carries a RemoteID, and all cross-device
// matching keys on RemoteID once it exists.
//
// Fields:
//   - LocalID: autoincrement primary key, never leaves the device.
//   - RemoteID: cloud document id, nil until the first successful cloud write.
//   - Synced: true only while the cloud counterpart is known to be current.
//   - OwnerID: user that owns the row; empty for guest-created chats.
//   - MessageCount: denormalized count, bumped on every append.
//   - IsBranch/ParentRemoteID/ParentTitle: set when the chat was created by
//     a regenerate-branch; the parent reference is non-owning.
//   - ShareID/SharedAt/SharedBy: public share record, nil until shared.
type Chat struct {
	LocalID        uint       `json:"local_id"         gorm:"primaryKey;autoIncrement"`
	RemoteID       *string    `json:"remote_id,omitempty" gorm:"type:char(36);uniqueIndex:ux_chat_remote"`
	Synced         bool       `json:"synced"           gorm:"not null;default:false"`
	OwnerID        string     `json:"owner_id"         gorm:"type:varchar(64);index:idx_owner_chats"`
	Title          string     `json:"title"            gorm:"type:varchar(255);not null;default:'New chat'"`
	MessageCount   int        `json:"message_count"    gorm:"not null;default:0"`
	IsArchived     bool       `json:"is_archived"      gorm:"not null;default:false"`
	IsPinned       bool       `json:"is_pinned"        gorm:"not null;default:false"`
	IsBranch       bool       `json:"is_branch"        gorm:"not null;default:false"`
	ParentRemoteID *string    `json:"parent_remote_id,omitempty" gorm:"type:char(36)"`
	ParentTitle    string     `json:"parent_title,omitempty" gorm:"type:varchar(255)"`
	ShareID        *string    `json:"share_id,omitempty" gorm:"type:char(36);index"`
	SharedAt       *time.Time `json:"shared_at,omitempty"`
	SharedBy       string     `json:"shared_by,omitempty" gorm:"type:varchar(64)"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// MarkSynced attaches the server identity and flips the sync flag together,
// keeping the RemoteID/Synced invariant intact.
func (c *Chat) MarkSynced(remoteID string) {
	c.RemoteID = &remoteID
	c.Synced = true
}

// Message is a single utterance in a chat, exclusively owned by its parent
// row and cascade-deleted with it. Ordering within a chat is CreatedAt
// ascending with LocalID as the tie-break, so equal timestamps never upset
// ordering logic.
type Message struct {
	LocalID     uint      `json:"local_id"   gorm:"primaryKey;autoIncrement"`
	ChatLocalID uint      `json:"chat_local_id" gorm:"not null;index:idx_chat_msgs,priority:1"`
	RemoteID    *string   `json:"remote_id,omitempty" gorm:"type:char(36);index"`
	Role        string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Kind        string    `json:"kind"       gorm:"type:varchar(24);not null;default:'text'"`
	Content     string    `json:"content"    gorm:"type:text;not null"`
	Model       string    `json:"model,omitempty" gorm:"type:varchar(128)"`
	CreatedAt   time.Time `json:"created_at" gorm:"index:idx_chat_msgs,priority:2"`

	// Image payload, set only for image-response messages.
	ImageURL           string     `json:"image_url,omitempty"            gorm:"type:text"`
	ImagePrompt        string     `json:"image_prompt,omitempty"         gorm:"type:text"`
	ImageRevisedPrompt string     `json:"image_revised_prompt,omitempty" gorm:"type:text"`
	ImageAt            *time.Time `json:"image_at,omitempty"`

	// Chat is the parent conversation. Messages are cascade-deleted when
	// their chat is removed.
	Chat Chat `json:"-" gorm:"foreignKey:ChatLocalID;references:LocalID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ChatSummary is one entry of the per-user metadata document: a lightweight,
// read-optimized projection of a cloud chat used to render the sidebar
// without listing the full chats collection.
type ChatSummary struct {
	RemoteID     string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	IsArchived   bool      `json:"is_archived"`
	IsPinned     bool      `json:"is_pinned"`
	IsBranch     bool      `json:"is_branch"`
}
