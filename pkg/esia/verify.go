package esia

import (
	"fmt"
	"os"
	"strconv"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// subjectClaim carries the portal-issued identifier of the authenticated
// person inside the access token.
const subjectClaim = "urn:esia:sbj_id"

// tokenVerifier checks access token signatures against the trusted portal
// key. The key is parsed once at strategy construction; a missing or
// malformed key file is a configuration fault, not a per-request one.
type tokenVerifier struct {
	key jwk.Key
}

func newTokenVerifier(trustedKeyPath string) (*tokenVerifier, error) {
	data, err := os.ReadFile(trustedKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading trusted portal key: %w", err)
	}
	key, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parsing trusted portal key: %w", err)
	}
	return &tokenVerifier{key: key}, nil
}

// Verify checks the token signature and validity window and returns the
// subject identifier as a decimal string. A token that does not verify is
// never trusted for any of its claims.
func (v *tokenVerifier) Verify(accessToken string) (string, error) {
	token, err := jwt.Parse(
		[]byte(accessToken),
		jwt.WithKey(jwa.RS256, v.key),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", &VerificationError{Err: err}
	}

	claim, ok := token.Get(subjectClaim)
	if !ok {
		return "", &VerificationError{Err: fmt.Errorf("token has no %s claim", subjectClaim)}
	}

	switch id := claim.(type) {
	case string:
		return id, nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	default:
		return "", &VerificationError{Err: fmt.Errorf("unexpected %s claim type %T", subjectClaim, claim)}
	}
}
