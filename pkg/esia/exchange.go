package esia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	State        string `json:"state"`
}

// exchangeToken trades an authorization code for a token set. The portal
// signals refusal through the body, not the status code, so the body is
// decoded unconditionally and the access token is the only success
// criterion.
func (s *Strategy) exchangeToken(ctx context.Context, endpoint string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ExchangeError{Reason: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Reason: "requesting token endpoint", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{Reason: "reading response", Err: err}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, &ExchangeError{Reason: "decoding response", Err: fmt.Errorf("%w (status %d)", err, resp.StatusCode)}
	}

	if tokens.AccessToken == "" {
		return nil, &ExchangeError{Reason: "authorization failed"}
	}

	return &tokens, nil
}
