package calendar

import "time"

// Credential is a user's stored provider credential pair.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	TokenType    string
	UpdatedAt    time.Time
}

// ExpiresWithin reports whether the access token is expired or will expire
// within margin of now. A zero expiry counts as expired.
func (c *Credential) ExpiresWithin(margin time.Duration, now time.Time) bool {
	if c.Expiry.IsZero() {
		return true
	}
	return c.Expiry.Sub(now) < margin
}
