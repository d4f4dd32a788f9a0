// Package cloud talks to Google Drive and Cloud Storage and exposes the
// upload targets used by backup and staging.
package cloud

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// ErrNoCredentials is returned when neither OAuth nor service account
// credentials are configured.
var ErrNoCredentials = errors.New("no google credentials configured")

// Credentials holds the two supported Google identities. OAuth user
// credentials (client id, secret and refresh token) win when complete.
type Credentials struct {
	ClientEmail  string
	PrivateKey   string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// HasOAuth reports whether all three OAuth parts are set.
func (c Credentials) HasOAuth() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// HasServiceAccount reports whether a service account key is set.
func (c Credentials) HasServiceAccount() bool {
	return c.ClientEmail != "" && c.PrivateKey != ""
}

// Configured reports whether any identity is available.
func (c Credentials) Configured() bool {
	return c.HasOAuth() || c.HasServiceAccount()
}

// NormalizedKey returns the private key with escaped newlines expanded, as
// keys pasted into a single env var line usually carry literal "\n".
func (c Credentials) NormalizedKey() string {
	return strings.ReplaceAll(c.PrivateKey, `\n`, "\n")
}

// TokenSource returns a token source for the given scopes.
func (c Credentials) TokenSource(ctx context.Context, scopes ...string) (oauth2.TokenSource, error) {
	switch {
	case c.HasOAuth():
		conf := &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       scopes,
		}
		return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}), nil
	case c.HasServiceAccount():
		conf := &jwt.Config{
			Email:      c.ClientEmail,
			PrivateKey: []byte(c.NormalizedKey()),
			Scopes:     scopes,
			TokenURL:   google.JWTTokenURL,
		}
		return conf.TokenSource(ctx), nil
	default:
		return nil, ErrNoCredentials
	}
}
