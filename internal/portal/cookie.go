package portal

import (
	"errors"
	"regexp"
	"strings"
)

// The portal issues browser cookies of which only the remember_student_<hash>
// pair actually authenticates. The optional username pair is display-only.
// Parsing stays here so the credential format can change without touching
// the check-in engine.

var (
	usernameRe   = regexp.MustCompile(`username=[^;]+`)
	credentialRe = regexp.MustCompile(`remember_student_[0-9a-fA-F]+=[^;]+`)
)

// ErrMalformedCookie marks a cookie that lacks the remember_student
// credential fragment. Detectable misconfiguration, not a crash.
var ErrMalformedCookie = errors.New("portal: cookie missing remember_student credential")

// Credential is the usable part of a raw portal cookie.
type Credential struct {
	Fragment    string // the remember_student_<hash>=<value> pair sent on every request
	DisplayName string // from the username pair, may be empty
}

func ParseCookie(raw string) (Credential, error) {
	frag := credentialRe.FindString(raw)
	if frag == "" {
		return Credential{}, ErrMalformedCookie
	}
	cred := Credential{Fragment: frag}
	if m := usernameRe.FindString(raw); m != "" {
		cred.DisplayName = strings.SplitN(m, "=", 2)[1]
	}
	return cred, nil
}
