package esia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyScope(t *testing.T) {
	requested := classifyScope("fullname email snils")
	assert.Equal(t, map[string][]string{
		"person":   {"fullname", "snils"},
		"contacts": {"email"},
	}, requested)
}

func TestClassifyScopeDropsUnknownKeys(t *testing.T) {
	requested := classifyScope("fullname usr_org something_else")
	assert.Equal(t, map[string][]string{"person": {"fullname"}}, requested)
}

func TestComposeFullName(t *testing.T) {
	assert.Equal(t, "Ivan Petrov", composeFullName("Ivan", "Petrov"))
	assert.Equal(t, "Ivan", composeFullName("Ivan", ""))
	assert.Equal(t, "Petrov", composeFullName("", "Petrov"))
	assert.Equal(t, "", composeFullName("", ""))
}

func TestContactKind(t *testing.T) {
	assert.Equal(t, "email", contactKind("EML"))
	assert.Equal(t, "mobile", contactKind("MBT"))
	assert.Equal(t, "", contactKind("PHN"))
	assert.Equal(t, "", contactKind(""))
}

func TestMergeProfilesLaterGroupWins(t *testing.T) {
	merged := mergeProfiles([]Profile{
		{"fullname": "Ivan", "shared": "from-person"},
		{"email": "a@b.com", "shared": "from-contacts"},
	})
	assert.Equal(t, Profile{
		"fullname": "Ivan",
		"email":    "a@b.com",
		"shared":   "from-contacts",
	}, merged)
}

func TestAggregateIssuesOneFetchPerGroup(t *testing.T) {
	var personCalls, contactsCalls atomic.Int32
	mux := http.NewServeMux()
	handleFunc(mux, "GET /rs/prns/42", func(w http.ResponseWriter, r *http.Request) {
		personCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"firstName": "Ivan", "snils": "123-456"})
	})
	handleFunc(mux, "GET /rs/prns/42/ctts", func(w http.ResponseWriter, r *http.Request) {
		contactsCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"elements": []string{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestStrategy(t, generateTestKeys(t), srv.URL, acceptAnyIdentity)
	profile, err := s.aggregateProfile(context.Background(), "42", "fullname email snils", "TOKEN")
	require.NoError(t, err)

	assert.Equal(t, int32(1), personCalls.Load())
	assert.Equal(t, int32(1), contactsCalls.Load())
	assert.Equal(t, Profile{"fullname": "Ivan", "snils": "123-456"}, profile)
}

func TestAggregateContactFiltering(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	handleFunc(mux, "GET /rs/prns/42/ctts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer TOKEN", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"elements": []string{
			srv.URL + "/rs/prns/42/ctts/1",
			srv.URL + "/rs/prns/42/ctts/2",
			srv.URL + "/rs/prns/42/ctts/3",
		}})
	})
	handleFunc(mux, "GET /rs/prns/42/ctts/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"type": "EML", "value": "a@b.com"})
	})
	handleFunc(mux, "GET /rs/prns/42/ctts/2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"type": "MBT", "value": "+70000000000"})
	})
	handleFunc(mux, "GET /rs/prns/42/ctts/3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"type": "PHN", "value": "ignored"})
	})

	s := newTestStrategy(t, generateTestKeys(t), srv.URL, acceptAnyIdentity)

	// mobile was not requested, so only the email survives
	profile, err := s.aggregateProfile(context.Background(), "42", "email", "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, Profile{"email": "a@b.com"}, profile)

	profile, err = s.aggregateProfile(context.Background(), "42", "email mobile", "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, Profile{"email": "a@b.com", "mobile": "+70000000000"}, profile)
}

func TestAggregatePartialFailureAbortsAll(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	handleFunc(mux, "GET /rs/prns/42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"firstName": "Ivan"})
	})
	handleFunc(mux, "GET /rs/prns/42/ctts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"elements": []string{
			srv.URL + "/rs/prns/42/ctts/1",
			srv.URL + "/rs/prns/42/ctts/2",
		}})
	})
	handleFunc(mux, "GET /rs/prns/42/ctts/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"type": "EML", "value": "a@b.com"})
	})
	handleFunc(mux, "GET /rs/prns/42/ctts/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	})

	s := newTestStrategy(t, generateTestKeys(t), srv.URL, acceptAnyIdentity)
	profile, err := s.aggregateProfile(context.Background(), "42", "fullname email", "TOKEN")

	var aggregationErr *AggregationError
	require.True(t, errors.As(err, &aggregationErr))
	assert.Nil(t, profile)
}

func TestAggregatePersonFieldSelection(t *testing.T) {
	mux := http.NewServeMux()
	handleFunc(mux, "GET /rs/prns/42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"firstName": "Ivan",
			"birthDate": "1980-01-02",
			"gender":    "M",
			"inn":       "500100732259",
			"trusted":   true,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestStrategy(t, generateTestKeys(t), srv.URL, acceptAnyIdentity)
	profile, err := s.aggregateProfile(context.Background(), "42", "fullname birthdate snils", "TOKEN")
	require.NoError(t, err)

	// gender and inn are present upstream but were not requested; snils
	// was requested but is absent upstream
	assert.Equal(t, Profile{"fullname": "Ivan", "birthdate": "1980-01-02"}, profile)
}
