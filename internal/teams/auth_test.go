// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package teams

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type jwksFixture struct {
	server    *httptest.Server
	key       *rsa.PrivateKey
	jwksCalls int32
}

func newJWKSFixture(t *testing.T, endorsements []string) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fixture := &jwksFixture{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": fixture.server.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fixture.jwksCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]interface{}{{
				"kty":          "RSA",
				"kid":          "key-1",
				"n":            base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":            base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
				"endorsements": endorsements,
			}},
		})
	})
	fixture.server = httptest.NewServer(mux)
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":        BotFrameworkIssuer,
		"aud":        "app-id",
		"exp":        time.Now().Add(time.Hour).Unix(),
		"nbf":        time.Now().Add(-time.Minute).Unix(),
		"serviceurl": "https://smba.trafficmanager.net/emea/",
	}
}

func teamsActivity() *Activity {
	return &Activity{
		Type:       ActivityTypeMessage,
		ChannelID:  "msteams",
		ServiceURL: "https://smba.trafficmanager.net/emea",
	}
}

func TestAuthValidator_AcceptsValidToken(t *testing.T) {
	fixture := newJWKSFixture(t, []string{"msteams"})
	validator := NewAuthValidator("app-id", fixture.server.URL+"/metadata", fixture.server.Client(), zaptest.NewLogger(t))

	token := fixture.sign(t, "key-1", validClaims())
	require.NoError(t, validator.Validate(context.Background(), "Bearer "+token, teamsActivity()))
	require.NoError(t, validator.Validate(context.Background(), "Bearer "+token, teamsActivity()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&fixture.jwksCalls), "keys are cached")
}

func TestAuthValidator_Rejects(t *testing.T) {
	fixture := newJWKSFixture(t, []string{"msteams"})

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   func() string
		activity *Activity
	}{
		{
			name:   "missing header",
			header: func() string { return "" },
		},
		{
			name:   "not a bearer token",
			header: func() string { return "Basic abc" },
		},
		{
			name: "wrong audience",
			header: func() string {
				claims := validClaims()
				claims["aud"] = "someone-else"
				return "Bearer " + fixture.sign(t, "key-1", claims)
			},
		},
		{
			name: "wrong issuer",
			header: func() string {
				claims := validClaims()
				claims["iss"] = "https://evil.example.com"
				return "Bearer " + fixture.sign(t, "key-1", claims)
			},
		},
		{
			name: "expired",
			header: func() string {
				claims := validClaims()
				claims["exp"] = time.Now().Add(-time.Hour).Unix()
				return "Bearer " + fixture.sign(t, "key-1", claims)
			},
		},
		{
			name: "unknown key id",
			header: func() string {
				return "Bearer " + fixture.sign(t, "key-2", validClaims())
			},
		},
		{
			name: "signed by another key",
			header: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
				token.Header["kid"] = "key-1"
				signed, err := token.SignedString(otherKey)
				require.NoError(t, err)
				return "Bearer " + signed
			},
		},
		{
			name: "hmac algorithm",
			header: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
				token.Header["kid"] = "key-1"
				signed, err := token.SignedString([]byte("secret"))
				require.NoError(t, err)
				return "Bearer " + signed
			},
		},
		{
			name: "service url mismatch",
			header: func() string {
				return "Bearer " + fixture.sign(t, "key-1", validClaims())
			},
			activity: &Activity{ChannelID: "msteams", ServiceURL: "https://attacker.example.com"},
		},
		{
			name: "key not endorsed for channel",
			header: func() string {
				return "Bearer " + fixture.sign(t, "key-1", validClaims())
			},
			activity: &Activity{ChannelID: "webchat", ServiceURL: "https://smba.trafficmanager.net/emea/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := NewAuthValidator("app-id", fixture.server.URL+"/metadata", fixture.server.Client(), zaptest.NewLogger(t))
			activity := tt.activity
			if activity == nil {
				activity = teamsActivity()
			}

			err := validator.Validate(context.Background(), tt.header(), activity)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAuthValidator_Disabled(t *testing.T) {
	validator := NewAuthValidator("", "", nil, zaptest.NewLogger(t))

	assert.False(t, validator.Enabled())
	assert.NoError(t, validator.Validate(context.Background(), "", teamsActivity()))
}

func TestAuthValidator_MetadataUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fixture := newJWKSFixture(t, nil)
	validator := NewAuthValidator("app-id", server.URL, server.Client(), zaptest.NewLogger(t))

	err := validator.Validate(context.Background(), "Bearer "+fixture.sign(t, "key-1", validClaims()), teamsActivity())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestParseRSAKey(t *testing.T) {
	_, err := parseRSAKey("", "AQAB")
	assert.Error(t, err)
	_, err = parseRSAKey("!!!", "AQAB")
	assert.Error(t, err)

	key, err := parseRSAKey("AQAB", "AQAB")
	require.NoError(t, err)
	assert.Equal(t, 65537, key.E)
}
