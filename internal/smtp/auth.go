package smtp

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// errBadCredentials is the single failure returned for any credential
// mismatch so responses do not reveal which half was wrong.
var errBadCredentials = fmt.Errorf("authentication credentials invalid")

// Authenticator checks AUTH PLAIN and AUTH LOGIN credentials presented on
// the listener. An inbound gateway normally runs open (no credentials
// configured); when both a username and password are set, every mail
// transaction requires a successful AUTH first.
type Authenticator struct {
	username []byte
	password []byte
}

// NewAuthenticator builds an Authenticator for the given credential pair.
// If either value is empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	if username == "" || password == "" {
		return &Authenticator{}
	}
	return &Authenticator{
		username: []byte(username),
		password: []byte(password),
	}
}

// Enabled reports whether the listener requires AUTH.
func (a *Authenticator) Enabled() bool {
	return len(a.username) > 0 && len(a.password) > 0
}

// VerifyPlain checks a base64 SASL PLAIN initial response, which carries
// authzid, authcid, and password separated by NUL bytes. The authzid is
// ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid base64 encoding: %w", err)
	}
	fields := bytes.SplitN(raw, []byte{0}, 3)
	if len(fields) != 3 {
		return fmt.Errorf("invalid PLAIN response format")
	}
	return a.check(fields[1], fields[2])
}

// VerifyLogin checks the two base64 responses collected during an AUTH
// LOGIN exchange.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return fmt.Errorf("invalid base64 username: %w", err)
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return fmt.Errorf("invalid base64 password: %w", err)
	}
	return a.check(user, pass)
}

// check compares both halves in constant time and always evaluates both so
// a username mismatch is not distinguishable from a password mismatch by
// timing.
func (a *Authenticator) check(user, pass []byte) error {
	if !a.Enabled() {
		return errBadCredentials
	}
	userOK := subtle.ConstantTimeCompare(user, a.username)
	passOK := subtle.ConstantTimeCompare(pass, a.password)
	if userOK&passOK != 1 {
		return errBadCredentials
	}
	return nil
}
