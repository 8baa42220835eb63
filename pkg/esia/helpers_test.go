package esia

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

// handleFunc registers a Go 1.22-style "METHOD /path" pattern on a mux
// using only pre-1.22 routing: exact path match plus a method check.
func handleFunc(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

type testKeys struct {
	certPath       string
	keyPath        string
	trustedKeyPath string
	key            *rsa.PrivateKey
}

// generateTestKeys writes a self-signed client certificate, its private key
// and the matching public "portal" verification key into a temp dir.
func generateTestKeys(t *testing.T) testKeys {
	t.Helper()
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "go-esia test client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	keys := testKeys{
		certPath:       filepath.Join(dir, "cert.pem"),
		keyPath:        filepath.Join(dir, "key.pem"),
		trustedKeyPath: filepath.Join(dir, "portal.pem"),
		key:            key,
	}
	writePEM(t, keys.certPath, "CERTIFICATE", certDER)
	writePEM(t, keys.keyPath, "PRIVATE KEY", keyDER)
	writePEM(t, keys.trustedKeyPath, "PUBLIC KEY", pubDER)
	return keys
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}))
}

// makeAccessToken mints an RS256 token the way the portal would.
func makeAccessToken(t *testing.T, key *rsa.PrivateKey, subject any, expires time.Time) string {
	t.Helper()
	builder := jwt.NewBuilder().
		Issuer("http://esia.test").
		Expiration(expires)
	if subject != nil {
		builder = builder.Claim(subjectClaim, subject)
	}
	token, err := builder.Build()
	require.NoError(t, err)

	signKey, err := jwk.FromRaw(key)
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, signKey))
	require.NoError(t, err)
	return string(signed)
}

func acceptAnyIdentity(_ context.Context, _, _ string, profile Profile) (any, string, error) {
	return profile, "", nil
}

func newTestStrategy(t *testing.T, keys testKeys, portalURL string, verify VerifyFunc, opts ...Option) *Strategy {
	t.Helper()
	s, err := NewStrategy(Config{
		Mnemonic:       "TESTSYS",
		CertPath:       keys.certPath,
		KeyPath:        keys.keyPath,
		TrustedKeyPath: keys.trustedKeyPath,
		PortalURL:      portalURL,
	}, verify, opts...)
	require.NoError(t, err)
	return s
}

type fakeRequest struct {
	path    string
	query   url.Values
	baseURL string
	session SessionStore
}

func (r *fakeRequest) Path() string                  { return r.path }
func (r *fakeRequest) QueryParam(name string) string { return r.query.Get(name) }
func (r *fakeRequest) BaseURL() string               { return r.baseURL }
func (r *fakeRequest) Session() SessionStore         { return r.session }

// outcomeRecorder captures the single terminal call of one attempt.
type outcomeRecorder struct {
	calls        int
	last         string
	user         any
	info         string
	err          error
	redirectURL  string
	redirectCode int
}

func (o *outcomeRecorder) Success(user any, info string) {
	o.calls++
	o.last = "success"
	o.user = user
	o.info = info
}

func (o *outcomeRecorder) Fail(info string) {
	o.calls++
	o.last = "fail"
	o.info = info
}

func (o *outcomeRecorder) Error(err error) {
	o.calls++
	o.last = "error"
	o.err = err
}

func (o *outcomeRecorder) Redirect(url string, code int) {
	o.calls++
	o.last = "redirect"
	o.redirectURL = url
	o.redirectCode = code
}
