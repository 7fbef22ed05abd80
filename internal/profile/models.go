package profile

import "time"

type Role string

const (
	RoleDeveloper Role = "developer"
	RoleTester    Role = "tester"
)

func (r Role) Valid() bool {
	return r == RoleDeveloper || r == RoleTester
}

type Profile struct {
	UID          string    `gorm:"primaryKey;size:64" json:"uid"`
	Username     string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	AvatarURL    *string   `gorm:"size:512" json:"avatar_url"`
	Role         Role      `gorm:"type:varchar(16);not null" json:"role"`
	Bio          string    `gorm:"type:text" json:"bio,omitempty"`
	Skills       []string  `gorm:"serializer:json" json:"skills,omitempty"`
	Links        []string  `gorm:"serializer:json" json:"links,omitempty"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// Identity is the display-only view of a profile used to decorate raw ids.
// Found is false when the identity was synthesized.
type Identity struct {
	UID       string  `json:"uid"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url"`
	Found     bool    `json:"found"`
}

func (p *Profile) Identity() Identity {
	return Identity{UID: p.UID, Username: p.Username, AvatarURL: p.AvatarURL, Found: true}
}

// Models lists the gorm models owned by this package.
func Models() []any {
	return []any{&Profile{}}
}
