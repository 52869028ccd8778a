package auth

import "time"

// Class distinguishes access tokens from refresh tokens. It travels as the
// "type" claim; an absent claim means ClassAccess.
type Class string

const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

// User is a stored account.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// Principal is the authenticated identity behind a token subject.
type Principal struct {
	Subject string `json:"subject"`
	UserID  string `json:"userId"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
}

func principalFromUser(u *User) Principal {
	return Principal{
		Subject: u.Email,
		UserID:  u.ID,
		Name:    u.Name,
		Role:    u.Role,
	}
}

// TokenInfo is the verified content of a token.
type TokenInfo struct {
	ID        string
	Subject   string
	Class     Class
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}
