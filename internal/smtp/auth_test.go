package smtp

import (
	"encoding/base64"
	"testing"
)

func plainResponse(authzid, user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(authzid + "\x00" + user + "\x00" + pass))
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestAuthenticator_Enabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{name: "credentials configured", username: "gateway", password: "s3cret", want: true},
		{name: "missing username", username: "", password: "s3cret", want: false},
		{name: "missing password", username: "gateway", password: "", want: false},
		{name: "open listener", username: "", password: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := NewAuthenticator(tt.username, tt.password)
			if got := auth.Enabled(); got != tt.want {
				t.Errorf("Enabled(): got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticator_VerifyPlain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		encoded string
		wantErr bool
	}{
		{name: "valid credentials", encoded: plainResponse("", "gateway", "s3cret"), wantErr: false},
		{name: "authzid present and ignored", encoded: plainResponse("ops", "gateway", "s3cret"), wantErr: false},
		{name: "wrong password", encoded: plainResponse("", "gateway", "nope"), wantErr: true},
		{name: "wrong username", encoded: plainResponse("", "intruder", "s3cret"), wantErr: true},
		{name: "credential length mismatch", encoded: plainResponse("", "gateway", "s3cret-and-more"), wantErr: true},
		{name: "not base64", encoded: "%%% not encoded %%%", wantErr: true},
		{name: "single NUL separator", encoded: b64("gateway\x00s3cret"), wantErr: true},
		{name: "empty response", encoded: b64(""), wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := NewAuthenticator("gateway", "s3cret")
			err := auth.VerifyPlain(tt.encoded)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyPlain(): got err %v, want error %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticator_VerifyLogin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		encodedUser string
		encodedPass string
		wantErr     bool
	}{
		{name: "valid credentials", encodedUser: b64("gateway"), encodedPass: b64("s3cret"), wantErr: false},
		{name: "wrong password", encodedUser: b64("gateway"), encodedPass: b64("nope"), wantErr: true},
		{name: "wrong username", encodedUser: b64("intruder"), encodedPass: b64("s3cret"), wantErr: true},
		{name: "username not base64", encodedUser: "%%%", encodedPass: b64("s3cret"), wantErr: true},
		{name: "password not base64", encodedUser: b64("gateway"), encodedPass: "%%%", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := NewAuthenticator("gateway", "s3cret")
			err := auth.VerifyLogin(tt.encodedUser, tt.encodedPass)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyLogin(): got err %v, want error %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticator_DisabledRejectsNothingConfigured(t *testing.T) {
	t.Parallel()

	// A listener without credentials must never validate a presented pair,
	// even an all-empty one, as a real login.
	auth := NewAuthenticator("", "")
	if err := auth.VerifyPlain(plainResponse("", "", "")); err == nil {
		t.Error("VerifyPlain() on a disabled authenticator: got nil, want error")
	}
}
