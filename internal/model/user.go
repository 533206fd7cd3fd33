package model

import (
	"time"
)

// User 用户模型
type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Username     string     `gorm:"uniqueIndex;not null;type:varchar(30)" json:"username"`
	Email        string     `gorm:"uniqueIndex;not null;type:varchar(255)" json:"email"`
	PasswordHash string     `gorm:"not null;type:varchar(255)" json:"-"`
	DisplayName  string     `gorm:"not null;type:varchar(100)" json:"display_name"`
	AvatarURL    *string    `gorm:"type:text" json:"avatar_url"`
	Bio          *string    `gorm:"type:text" json:"bio"`
	IsOnline     bool       `gorm:"not null;default:false" json:"is_online"`
	LastSeen     *time.Time `json:"last_seen"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserProfile is the public view of a user. It never carries email or credentials.
type UserProfile struct {
	ID          int64      `json:"id,string"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url"`
	Bio         *string    `json:"bio,omitempty"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    *time.Time `json:"last_seen"`
}

func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
	}
}

// Session 登录会话. A row exists for every token that has not been logged out.
type Session struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID     int64     `gorm:"index;not null" json:"user_id,string"`
	Token      string    `gorm:"uniqueIndex;not null;type:varchar(512)" json:"-"`
	DeviceInfo *string   `gorm:"type:varchar(255)" json:"device_info"`
	IPAddress  *string   `gorm:"type:varchar(64)" json:"ip_address"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// Contact 联系人
type Contact struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_contacts_user_contact,priority:1" json:"user_id,string"`
	ContactID int64     `gorm:"not null;uniqueIndex:idx_contacts_user_contact,priority:2" json:"contact_id,string"`
	Nickname  *string   `gorm:"type:varchar(100)" json:"nickname"`
	IsBlocked bool      `gorm:"not null;default:false" json:"is_blocked"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// ContactView is a contact row joined with the contact's profile.
type ContactView struct {
	ID        int64       `json:"id,string"`
	ContactID int64       `json:"contact_id,string"`
	Nickname  *string     `json:"nickname"`
	IsBlocked bool        `json:"is_blocked"`
	CreatedAt time.Time   `json:"created_at"`
	Contact   UserProfile `json:"contact"`
}
