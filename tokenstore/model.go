package tokenstore

// UserProfile is the cached identity of the signed-in user.
type UserProfile struct {
	ID                int64  `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Department        string `json:"department"`
	JobTitle          string `json:"jobTitle"`
	ProfilePictureURL string `json:"profilePictureUrl,omitempty"`
}

// TokenPair holds the bearer credential and the credential used to renew it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// IssuedAt is the unix time (seconds) at which the pair was stored.
	IssuedAt int64 `json:"issuedAt,omitempty"`
}

// Record is the unit of persistence. A nil User means the profile has not
// been fetched yet.
type Record struct {
	Tokens TokenPair
	User   *UserProfile
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{Tokens: r.Tokens}
	if r.User != nil {
		u := *r.User
		out.User = &u
	}
	return out
}
