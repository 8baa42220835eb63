// Package esia implements federated end-user login against the ESIA portal
// (gosuslugi): an authorization-code flow with PKCS7 signed client secrets,
// a JWT bearing token exchange, and scope-driven aggregation of person and
// contact attributes into a single profile.
package esia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampFormat is the portal's expected request timestamp layout.
const timestampFormat = "2006.01.02 15:04:05 -0700"

// User-facing failure reasons. Translation to the end user's language is
// the host's concern.
const (
	FailConnection = "connection error"
	FailSignature  = "signature failure"
)

// Request is the inbound HTTP request as the strategy sees it.
type Request interface {
	// Path of the request URL, used to tell the callback leg from the
	// login leg.
	Path() string
	QueryParam(name string) string
	// BaseURL is scheme://host of the inbound request, used to resolve
	// the absolute redirect URI.
	BaseURL() string
	Session() SessionStore
}

// Outcome receives the terminal result of one authentication attempt.
// Exactly one of its methods is called per Authenticate invocation.
type Outcome interface {
	Success(user any, info string)
	Fail(info string)
	Error(err error)
	Redirect(url string, code int)
}

// VerifyFunc lets the host resolve or create a local user record from a
// verified identity. A nil user fails the attempt with info as the reason;
// an error aborts it through the error path.
type VerifyFunc func(ctx context.Context, accessToken, refreshToken string, profile Profile) (user any, info string, err error)

// Strategy drives the two-phase ESIA login: a signed authorization
// redirect, then the provider callback with state validation, token
// exchange, token verification and profile aggregation.
type Strategy struct {
	config     Config
	verify     VerifyFunc
	signer     *signer
	verifier   *tokenVerifier
	portal     *url.URL
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Strategy) error

func WithLogger(log *slog.Logger) Option {
	return func(s *Strategy) error {
		s.log = log
		return nil
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Strategy) error {
		s.httpClient = client
		return nil
	}
}

// NewStrategy validates the configuration, loads the trusted portal key
// and returns a ready strategy. Missing required settings and an unusable
// trusted key are construction errors, never request-time ones.
func NewStrategy(config Config, verify VerifyFunc, opts ...Option) (*Strategy, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if verify == nil {
		return nil, errors.New("esia: verify callback is required")
	}

	portal, err := url.Parse(config.PortalURL)
	if err != nil {
		return nil, fmt.Errorf("esia: parsing portal URL: %w", err)
	}

	verifier, err := newTokenVerifier(config.TrustedKeyPath)
	if err != nil {
		return nil, fmt.Errorf("esia: %w", err)
	}

	s := &Strategy{
		config:     config,
		verify:     verify,
		signer:     newSigner(config.CertPath, config.KeyPath, config.KeyPassword),
		verifier:   verifier,
		portal:     portal,
		httpClient: &http.Client{},
		log:        slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// NewStrategyFromConfigFile builds a strategy from a YAML config file.
func NewStrategyFromConfigFile(path string, verify VerifyFunc, opts ...Option) (*Strategy, error) {
	config, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return NewStrategy(*config, verify, opts...)
}

// Name identifies the strategy in host-side registries.
func (s *Strategy) Name() string { return "esia" }

// Authenticate classifies the request by path and runs the matching leg.
// It reports its result through out exactly once.
func (s *Strategy) Authenticate(ctx context.Context, req Request, out Outcome) {
	if strings.HasSuffix(req.Path(), s.config.RedirectPath) {
		s.handleCallback(ctx, req, out)
		return
	}
	s.initiate(req, out)
}

// initiate generates a fresh anti-forgery state, signs the authorization
// request and redirects the browser to the portal.
func (s *Strategy) initiate(req Request, out Outcome) {
	state := uuid.NewString()
	if err := req.Session().Set(SessionStateKey, state); err != nil {
		out.Error(fmt.Errorf("esia: saving login state: %w", err))
		return
	}

	timestamp := s.now().Format(timestampFormat)
	secret, err := s.signer.Sign(s.config.Scope + timestamp + s.config.Mnemonic + state)
	if err != nil {
		s.log.Error("signing authorization request", "error", err)
		out.Fail(FailSignature)
		return
	}

	query := url.Values{}
	query.Set("timestamp", timestamp)
	query.Set("client_id", s.config.Mnemonic)
	query.Set("redirect_uri", s.redirectURI(req))
	query.Set("scope", s.config.Scope)
	query.Set("response_type", "code")
	query.Set("state", state)
	query.Set("access_type", "online")
	query.Set("client_secret", secret)

	authURL := s.resolveURL(s.config.AuthCodePath) + "?" + query.Encode()
	s.log.Debug("redirecting to portal", "auth_url", authURL)
	out.Redirect(authURL, http.StatusFound)
}

// handleCallback validates the echoed state, exchanges the code, verifies
// the returned token, aggregates the profile and delegates to the host
// verify callback.
func (s *Strategy) handleCallback(ctx context.Context, req Request, out Outcome) {
	code := req.QueryParam("code")
	echoed := req.QueryParam("state")
	if code == "" || echoed == "" {
		s.log.Warn("callback without code or state")
		out.Fail(FailConnection)
		return
	}

	session := req.Session()
	stored, err := session.Get(SessionStateKey)
	// The state is single-use: remove it before comparing so a replayed
	// callback fails even when this attempt does too.
	if delErr := session.Delete(SessionStateKey); delErr != nil {
		out.Error(fmt.Errorf("esia: clearing login state: %w", delErr))
		return
	}
	if err != nil || stored == "" || stored != echoed {
		s.log.Warn("callback state mismatch", "error", &CallbackError{Reason: "state mismatch"})
		out.Fail(FailConnection)
		return
	}

	timestamp := s.now().Format(timestampFormat)
	secret, err := s.signer.Sign(s.config.Scope + timestamp + s.config.Mnemonic + stored)
	if err != nil {
		s.log.Error("signing token exchange request", "error", err)
		out.Fail(FailSignature)
		return
	}

	form := url.Values{}
	form.Set("client_id", s.config.Mnemonic)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("client_secret", secret)
	form.Set("state", stored)
	form.Set("redirect_uri", s.redirectURI(req))
	form.Set("scope", s.config.Scope)
	form.Set("timestamp", timestamp)
	form.Set("token_type", "Bearer")

	tokens, err := s.exchangeToken(ctx, s.resolveURL(s.config.TokenPath), form)
	if err != nil {
		out.Error(err)
		return
	}

	subjectID, err := s.verifier.Verify(tokens.AccessToken)
	if err != nil {
		out.Error(err)
		return
	}

	attributes, err := s.aggregateProfile(ctx, subjectID, s.config.Scope, tokens.AccessToken)
	if err != nil {
		out.Error(err)
		return
	}

	profile := Profile{"oid": subjectID}
	for key, value := range attributes {
		profile[key] = value
	}

	user, info, err := s.verify(ctx, tokens.AccessToken, tokens.RefreshToken, profile)
	if err != nil {
		out.Error(err)
		return
	}
	if user == nil {
		out.Fail(info)
		return
	}
	s.log.Info("login established", "subject", subjectID)
	out.Success(user, info)
}

// resolveURL resolves a path reference against the portal base URL.
func (s *Strategy) resolveURL(ref string) string {
	resolved, err := s.portal.Parse(ref)
	if err != nil {
		return s.config.PortalURL + ref
	}
	return resolved.String()
}

// redirectURI resolves the configured redirect path against the inbound
// request's own scheme and host.
func (s *Strategy) redirectURI(req Request) string {
	base, err := url.Parse(req.BaseURL())
	if err != nil {
		return s.config.RedirectPath
	}
	resolved, err := base.Parse(s.config.RedirectPath)
	if err != nil {
		return s.config.RedirectPath
	}
	return resolved.String()
}
