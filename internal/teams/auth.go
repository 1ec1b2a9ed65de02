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
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// DefaultOpenIDMetadataURL describes the keys the Bot Connector signs with
	DefaultOpenIDMetadataURL = "https://login.botframework.com/v1/.well-known/openidconfiguration"
	// BotFrameworkIssuer is the issuer of channel-to-bot tokens
	BotFrameworkIssuer = "https://api.botframework.com"
	// KeyRefreshInterval bounds how long fetched signing keys are trusted
	KeyRefreshInterval = 24 * time.Hour

	minKeyRefreshInterval = time.Minute
	clockSkew             = 5 * time.Minute
)

// ErrUnauthorized is returned for requests that fail authentication
var ErrUnauthorized = errors.New("unauthorized")

// signingKey is a JWKS entry with the channels it is endorsed for
type signingKey struct {
	key          *rsa.PublicKey
	endorsements []string
}

// AuthValidator checks the bearer token the Bot Connector attaches to every
// inbound activity
type AuthValidator struct {
	appID       string
	metadataURL string
	client      *http.Client
	logger      *zap.Logger
	enabled     bool

	mu        sync.Mutex
	keys      map[string]signingKey
	fetchedAt time.Time
}

// NewAuthValidator creates a validator for tokens issued to appID. Without
// an app id validation is disabled.
func NewAuthValidator(appID, metadataURL string, client *http.Client, logger *zap.Logger) *AuthValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metadataURL == "" {
		metadataURL = DefaultOpenIDMetadataURL
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	enabled := appID != ""
	if !enabled {
		logger.Warn("Bot authentication disabled - no app id configured. " +
			"This should only be used with a local emulator.")
	}

	return &AuthValidator{
		appID:       appID,
		metadataURL: metadataURL,
		client:      client,
		logger:      logger,
		enabled:     enabled,
		keys:        make(map[string]signingKey),
	}
}

// Enabled reports whether requests are authenticated
func (v *AuthValidator) Enabled() bool {
	return v.enabled
}

// Validate checks the Authorization header of an inbound activity
func (v *AuthValidator) Validate(ctx context.Context, authHeader string, activity *Activity) error {
	if !v.enabled {
		return nil
	}

	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims,
		func(token *jwt.Token) (interface{}, error) {
			return v.keyFor(ctx, token, activity.ChannelID)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(BotFrameworkIssuer),
		jwt.WithAudience(v.appID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if serviceURL, ok := claims["serviceurl"].(string); ok && serviceURL != "" {
		if !strings.EqualFold(strings.TrimSuffix(serviceURL, "/"), strings.TrimSuffix(activity.ServiceURL, "/")) {
			return fmt.Errorf("%w: serviceUrl claim does not match activity", ErrUnauthorized)
		}
	}

	return nil
}

func (v *AuthValidator) keyFor(ctx context.Context, token *jwt.Token, channelID string) (*rsa.PublicKey, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no key id")
	}

	key, err := v.lookup(ctx, kid)
	if err != nil {
		return nil, err
	}

	if channelID != "" && len(key.endorsements) > 0 && !slices.Contains(key.endorsements, channelID) {
		return nil, fmt.Errorf("signing key is not endorsed for channel %s", channelID)
	}
	return key.key, nil
}

func (v *AuthValidator) lookup(ctx context.Context, kid string) (signingKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key, ok := v.keys[kid]
	stale := time.Since(v.fetchedAt) > KeyRefreshInterval
	if ok && !stale {
		return key, nil
	}

	// Unknown key ids trigger a refresh, at most once a minute
	if stale || time.Since(v.fetchedAt) > minKeyRefreshInterval {
		keys, err := v.fetchKeys(ctx)
		if err != nil {
			if ok {
				v.logger.Warn("Failed to refresh signing keys, using cached key", zap.Error(err))
				return key, nil
			}
			return signingKey{}, err
		}
		v.keys = keys
		v.fetchedAt = time.Now()
		key, ok = keys[kid]
	}

	if !ok {
		return signingKey{}, fmt.Errorf("unknown signing key %s", kid)
	}
	return key, nil
}

type openIDMetadata struct {
	JWKSURI string `json:"jwks_uri"`
}

type jsonWebKey struct {
	Kty          string   `json:"kty"`
	Kid          string   `json:"kid"`
	N            string   `json:"n"`
	E            string   `json:"e"`
	Endorsements []string `json:"endorsements"`
}

func (v *AuthValidator) fetchKeys(ctx context.Context) (map[string]signingKey, error) {
	var metadata openIDMetadata
	if err := v.getJSON(ctx, v.metadataURL, &metadata); err != nil {
		return nil, fmt.Errorf("failed to fetch OpenID metadata: %w", err)
	}
	if metadata.JWKSURI == "" {
		return nil, errors.New("OpenID metadata has no jwks_uri")
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := v.getJSON(ctx, metadata.JWKSURI, &set); err != nil {
		return nil, fmt.Errorf("failed to fetch signing keys: %w", err)
	}

	keys := make(map[string]signingKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		publicKey, err := parseRSAKey(jwk.N, jwk.E)
		if err != nil {
			v.logger.Warn("Skipping malformed signing key", zap.String("kid", jwk.Kid), zap.Error(err))
			continue
		}
		keys[jwk.Kid] = signingKey{key: publicKey, endorsements: jwk.Endorsements}
	}

	v.logger.Debug("Fetched signing keys", zap.Int("count", len(keys)))
	return keys, nil
}

func (v *AuthValidator) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(n, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(e, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	if len(modulus) == 0 || len(exponent) == 0 {
		return nil, errors.New("empty key material")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: int(new(big.Int).SetBytes(exponent).Int64()),
	}, nil
}
