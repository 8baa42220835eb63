package esia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Profile is the flat attribute map handed to the host verification
// callback, seeded with the subject identifier under "oid".
type Profile map[string]string

type scopeGroup struct {
	name string
	keys []string
}

// scopeGroups is the fixed table of portal attribute groups and the scope
// keys each one owns. Merge order follows declaration order.
var scopeGroups = []scopeGroup{
	{name: "person", keys: []string{"fullname", "birthdate", "gender", "snils", "inn"}},
	{name: "contacts", keys: []string{"email", "mobile"}},
}

// classifyScope buckets the requested scope keys by attribute group.
// Keys the table does not know are dropped.
func classifyScope(scope string) map[string][]string {
	requested := make(map[string][]string)
	for _, key := range strings.Fields(scope) {
		for _, group := range scopeGroups {
			if slices.Contains(group.keys, key) {
				requested[group.name] = append(requested[group.name], key)
			}
		}
	}
	return requested
}

// aggregateProfile fetches every requested attribute group concurrently and
// merges the results. Latency is bounded by the slowest group, not their
// sum. The call returns only after every started fetch has settled; the
// first failure wins and discards all partial results.
func (s *Strategy) aggregateProfile(ctx context.Context, subjectID, scope, accessToken string) (Profile, error) {
	requested := classifyScope(scope)

	parts := make([]Profile, len(scopeGroups))
	g, ctx := errgroup.WithContext(ctx)
	for i, group := range scopeGroups {
		i, group := i, group
		keys := requested[group.name]
		if len(keys) == 0 {
			continue
		}
		g.Go(func() error {
			part, err := s.fetchGroup(ctx, group.name, subjectID, keys, accessToken)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &AggregationError{Err: err}
	}

	return mergeProfiles(parts), nil
}

// mergeProfiles flattens per-group results in table order: on a key
// collision the later group overwrites the earlier one, regardless of which
// fetch completed first.
func mergeProfiles(parts []Profile) Profile {
	merged := make(Profile)
	for _, part := range parts {
		for key, value := range part {
			merged[key] = value
		}
	}
	return merged
}

func (s *Strategy) fetchGroup(ctx context.Context, group, subjectID string, keys []string, accessToken string) (Profile, error) {
	switch group {
	case "person":
		return s.fetchPersonInfo(ctx, subjectID, keys, accessToken)
	case "contacts":
		return s.fetchContactsInfo(ctx, subjectID, keys, accessToken)
	}
	return Profile{}, nil
}

// fetchPersonInfo reads the person resource and keeps only the requested
// fields that are present. The composite fullname joins the non-empty name
// halves with a single space.
func (s *Strategy) fetchPersonInfo(ctx context.Context, subjectID string, keys []string, accessToken string) (Profile, error) {
	var person map[string]any
	if err := s.getJSON(ctx, s.resolveURL(path.Join("rs/prns", subjectID)), accessToken, &person); err != nil {
		return nil, err
	}

	result := make(Profile)
	for _, key := range keys {
		if key == "fullname" {
			firstName, _ := person["firstName"].(string)
			lastName, _ := person["lastName"].(string)
			result["fullname"] = composeFullName(firstName, lastName)
			continue
		}
		field := key
		if key == "birthdate" {
			field = "birthDate"
		}
		if value, ok := person[field].(string); ok && value != "" {
			result[key] = value
		}
	}
	return result, nil
}

func composeFullName(firstName, lastName string) string {
	parts := make([]string, 0, 2)
	if firstName != "" {
		parts = append(parts, firstName)
	}
	if lastName != "" {
		parts = append(parts, lastName)
	}
	return strings.Join(parts, " ")
}

// fetchContactsInfo lists the subject's contact URIs and fetches each one
// concurrently, keeping only items whose type maps to a requested key.
func (s *Strategy) fetchContactsInfo(ctx context.Context, subjectID string, keys []string, accessToken string) (Profile, error) {
	var listing struct {
		Elements []string `json:"elements"`
	}
	if err := s.getJSON(ctx, s.resolveURL(fmt.Sprintf("rs/prns/%s/ctts", subjectID)), accessToken, &listing); err != nil {
		return nil, err
	}

	type contact struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}

	contacts := make([]contact, len(listing.Elements))
	g, ctx := errgroup.WithContext(ctx)
	for i, uri := range listing.Elements {
		i, uri := i, uri
		g.Go(func() error {
			return s.getJSON(ctx, uri, accessToken, &contacts[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(Profile)
	for _, c := range contacts {
		kind := contactKind(c.Type)
		if kind == "" || c.Value == "" {
			continue
		}
		if slices.Contains(keys, kind) {
			result[kind] = c.Value
		}
	}
	return result, nil
}

// contactKind maps a portal contact type code to a scope key. Unknown
// codes are dropped.
func contactKind(code string) string {
	switch code {
	case "EML":
		return "email"
	case "MBT":
		return "mobile"
	default:
		return ""
	}
}

func (s *Strategy) getJSON(ctx context.Context, uri, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", uri, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", uri, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", uri, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", uri, err)
	}
	return nil
}
