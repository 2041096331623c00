package repository

import (
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PortalUser is a registered portal account keyed by its identity provider uid.
type PortalUser struct {
	bun.BaseModel `bun:"table:portal_users,alias:pu"`

	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ProviderUID   string     `bun:"provider_uid,notnull,unique" json:"provider_uid"`
	ProviderID    string     `bun:"provider_id" json:"provider_id,omitempty"`
	DisplayName   string     `bun:"display_name" json:"display_name,omitempty"`
	PhoneNumber   string     `bun:"phone_number" json:"phone_number,omitempty"`
	PhoneUID      string     `bun:"phone_uid" json:"phone_uid,omitempty"`
	PhoneVerified bool       `bun:"phone_verified,notnull,default:false" json:"phone_verified"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ToRegisteredUser maps the record to the auth model.
func (u *PortalUser) ToRegisteredUser() *auth.RegisteredUser {
	if u == nil {
		return nil
	}
	return &auth.RegisteredUser{
		ID:            u.ID.String(),
		IdentityUID:   u.ProviderUID,
		DisplayName:   u.DisplayName,
		PhoneNumber:   u.PhoneNumber,
		PhoneUID:      u.PhoneUID,
		PhoneVerified: u.PhoneVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// PhoneIdentity records a verified phone credential linked to a user. A
// phone uid belongs to at most one user.
type PhoneIdentity struct {
	bun.BaseModel `bun:"table:phone_identities,alias:phi"`

	ID          uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID      uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id"`
	PhoneUID    string    `bun:"phone_uid,notnull,unique" json:"phone_uid"`
	PhoneNumber string    `bun:"phone_number,notnull" json:"phone_number"`
	LinkedAt    time.Time `bun:"linked_at,notnull" json:"linked_at"`
}
