package goAuthClient

import (
	"time"

	"github.com/MrEthical07/goAuthClient/tokenstore"
)

// UserProfile is the signed-in user's identity as returned by the backend.
type UserProfile = tokenstore.UserProfile

// TokenPair is the stored credential pair.
type TokenPair = tokenstore.TokenPair

// Credentials are sent to the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfilePatch carries the editable profile fields. Nil fields are left
// unchanged.
type ProfilePatch struct {
	FirstName         *string `json:"firstName,omitempty"`
	LastName          *string `json:"lastName,omitempty"`
	Email             *string `json:"email,omitempty"`
	Department        *string `json:"department,omitempty"`
	JobTitle          *string `json:"jobTitle,omitempty"`
	ProfilePictureURL *string `json:"profilePictureUrl,omitempty"`
}

func (p ProfilePatch) empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil &&
		p.Department == nil && p.JobTitle == nil && p.ProfilePictureURL == nil
}

func (p ProfilePatch) applyTo(u *UserProfile) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Department != nil {
		u.Department = *p.Department
	}
	if p.JobTitle != nil {
		u.JobTitle = *p.JobTitle
	}
	if p.ProfilePictureURL != nil {
		u.ProfilePictureURL = *p.ProfilePictureURL
	}
}

// State is the Session lifecycle state.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// SessionState is a point-in-time copy of what consumers may render. It
// never carries tokens.
type SessionState struct {
	State         State
	User          *UserProfile
	Authenticated bool
	Initializing  bool
	// Validated is set once the background profile check after Init has
	// finished, whatever its outcome.
	Validated bool
	Since     time.Time
}

type loginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *UserProfile `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
