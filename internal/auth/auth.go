// Package auth implements curricache's operator-facing authentication
// layer: GitHub OAuth login gating the admin endpoints on cmd/api
// (/courses, /courses/{id}/topics, /query), backed by a short-lived JWT
// session token. This is ambient, out-of-core infrastructure — the
// retrieval pipeline itself has no notion of an operator — kept enabled
// behind the AUTH_ENABLED config toggle per the teacher's existing layer.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey namespaces values stored on the request context.
type ContextKey string

const OperatorContextKey ContextKey = "operator"

// Operator is the authenticated human behind a cmd/api admin request,
// sourced from their GitHub profile.
type Operator struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// SessionResponse is what /auth/callback and /auth/me return: the signed-in
// operator plus the JWT session token minting that identity.
type SessionResponse struct {
	Operator Operator `json:"operator"`
	Token    string   `json:"token,omitempty"`
}

// OperatorClaims is the JWT claim set that encodes an Operator.
type OperatorClaims struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	jwt.RegisteredClaims
}

var cfg *Config

// Config holds the GitHub OAuth app credentials and JWT signing secret for
// the operator-auth layer.
type Config struct {
	JwtSecret    []byte
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AllowedOrg   string
	Enabled      bool
}

// Configure installs the process-wide operator-auth configuration.
func Configure(jwtSecret, clientID, clientSecret, redirectURL, allowedOrg string, enabled bool) {
	cfg = &Config{
		JwtSecret:    []byte(jwtSecret),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AllowedOrg:   allowedOrg,
		Enabled:      enabled,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Enabled reports whether operator auth is configured and switched on.
func Enabled() bool {
	if cfg == nil {
		return false
	}
	return cfg.Enabled
}

// GenerateState creates a random state parameter for the OAuth handshake.
func GenerateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-state-" + fmt.Sprintf("%d", time.Now().Unix())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// LoginURL returns the GitHub OAuth authorize URL for the given state.
func LoginURL(state string) string {
	if cfg == nil {
		return ""
	}
	scope := "read:user,user:email"
	if cfg.AllowedOrg != "" {
		scope += ",read:org"
	}
	return fmt.Sprintf(
		"https://github.com/login/oauth/authorize?client_id=%s&redirect_uri=%s&scope=%s&state=%s",
		cfg.ClientID, cfg.RedirectURL, scope, state,
	)
}

// ExchangeCodeForToken exchanges an OAuth authorization code for a GitHub
// access token.
func ExchangeCodeForToken(code string) (string, error) {
	if cfg == nil {
		return "", errors.New("auth not configured")
	}
	data := fmt.Sprintf(
		"client_id=%s&client_secret=%s&code=%s",
		cfg.ClientID, cfg.ClientSecret, code,
	)

	req, err := http.NewRequest("POST", "https://github.com/login/oauth/access_token", strings.NewReader(data))
	if err != nil {
		return "", err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("failed to close response body: %v\n", err)
		}
	}()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if accessToken, ok := result["access_token"].(string); ok {
		return accessToken, nil
	}

	return "", fmt.Errorf("failed to get access token")
}

// FetchOperator resolves the GitHub profile behind accessToken, rejecting
// it if an allowed-org restriction is configured and unmet.
func FetchOperator(accessToken string) (*Operator, error) {
	req, err := http.NewRequest("GET", "https://api.github.com/user", nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("failed to close response body: %v\n", err)
		}
	}()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var op Operator
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, err
	}

	if cfg.AllowedOrg != "" {
		if !isOrgMember(accessToken, op.Login, cfg.AllowedOrg) {
			return nil, fmt.Errorf("operator is not a member of the required organization")
		}
	}

	return &op, nil
}

// isOrgMember reports whether username belongs to org.
func isOrgMember(accessToken, username, org string) bool {
	url := fmt.Sprintf("https://api.github.com/orgs/%s/members/%s", org, username)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return false
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("failed to close response body: %v\n", err)
		}
	}()

	// 204: public member, 200: private member.
	return resp.StatusCode == 200 || resp.StatusCode == 204
}

// IssueToken mints a signed JWT session token for op.
func IssueToken(op *Operator) (string, error) {
	if cfg == nil {
		return "", errors.New("auth not configured")
	}
	claims := OperatorClaims{
		Login:     op.Login,
		Name:      op.Name,
		Email:     op.Email,
		AvatarURL: op.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   op.Login,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.JwtSecret)
}

// ParseToken validates tokenString and recovers the Operator it encodes.
func ParseToken(tokenString string) (*Operator, error) {
	if cfg == nil {
		return nil, errors.New("auth not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return cfg.JwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return &Operator{
			Login:     claims.Login,
			Name:      claims.Name,
			Email:     claims.Email,
			AvatarURL: claims.AvatarURL,
		}, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// Middleware extracts and validates a session token from the request if
// auth is enabled, attaching the resolved Operator to the context; if auth
// is disabled it passes every request through untouched.
func Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		var tokenString string

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}

		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		op, err := ParseToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), OperatorContextKey, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// OperatorFromContext recovers the Operator attached by Middleware, if any.
func OperatorFromContext(r *http.Request) *Operator {
	if op, ok := r.Context().Value(OperatorContextKey).(*Operator); ok {
		return op
	}
	return nil
}
