package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": status, "body": body})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIEndpoint: srv.URL + "/", RetryCount: 0})
	require.NoError(t, err)
	return c
}

func TestLookupAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/account", r.URL.Path)
		switch r.URL.Query().Get("email") {
		case "taken@example.com":
			writeEnvelope(w, 200, "Account with given email already exists")
		default:
			writeEnvelope(w, 200, "Account with given email does not exist. Proceed with account opening.")
		}
	})

	st, err := c.LookupAccount(context.Background(), "Taken@Example.com")
	require.NoError(t, err)
	assert.True(t, st.Exists)

	st, err = c.LookupAccount(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Contains(t, st.Status, "Proceed with account opening")
}

func TestVerifyID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verifyId", r.URL.Path)
		var req struct {
			FileName string            `json:"file_name"`
			Required map[string]string `json:"required_field_values"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "doc1.png", req.FileName)
		if req.Required[FieldLastName] != "Doe" {
			writeEnvelope(w, 200, "The details you provided for LAST_NAME do not match your ID")
			return
		}
		writeEnvelope(w, 200, "Document has been verified")
	})

	v, err := c.VerifyID(context.Background(), "doc1.png", map[string]string{FieldFirstName: "Jane", FieldLastName: "Doe"})
	require.NoError(t, err)
	assert.True(t, v.Passed)

	v, err = c.VerifyID(context.Background(), "doc1.png", map[string]string{FieldFirstName: "Jane", FieldLastName: "Roe"})
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Contains(t, v.Detail, "LAST_NAME")
}

func TestVerifyFaceAndCreateAccount(t *testing.T) {
	var created Account
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verifyFace":
			writeEnvelope(w, 200, "Face match verified")
		case "/account":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			writeEnvelope(w, 200, "New account created successfully. User notified via email")
		default:
			http.NotFound(w, r)
		}
	})

	v, err := c.VerifyFace(context.Background(), "doc1.png", "selfie.png")
	require.NoError(t, err)
	assert.True(t, v.Passed)

	status, err := c.CreateAccount(context.Background(), Account{
		Email: "user@example.com", AccountType: "SAVINGS", FirstName: "Jane", LastName: "Doe",
		IDFileName: "doc1.png", SelfieFileName: "selfie.png",
	})
	require.NoError(t, err)
	assert.Contains(t, status, "created successfully")
	assert.Equal(t, "selfie.png", created.SelfieFileName)
	assert.Equal(t, "SAVINGS", created.AccountType)
}

func TestUnavailable(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"envelope status 500", func(w http.ResponseWriter, r *http.Request) { writeEnvelope(w, 500, "boom") }},
		{"http status 502", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"not json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.h)
			_, err := c.LookupAccount(context.Background(), "user@example.com")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnavailable))
		})
	}
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
