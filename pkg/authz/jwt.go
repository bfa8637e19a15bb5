package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT-based identity extractor.
type JWTConfig struct {
	// UserClaim is the claim holding the stable user ID. Default: "sub".
	UserClaim string

	// NameClaim is the claim holding a display name. Default: "name".
	NameClaim string

	// RoleClaim is the JWT claim path containing the caller's role.
	// Supports dot-notation for nested claims (e.g., "realm_access.roles").
	// Default: "role"
	RoleClaim string

	// CuratorValue and AdminValue are the claim values mapped to RoleCurator
	// and RoleAdmin. Any other value maps to RoleUser.
	CuratorValue string
	AdminValue   string

	// PublicKeyPath is the path to the PEM-encoded RSA public key for RS256 verification.
	// If empty, tokens are parsed but NOT verified (trusted proxy mode).
	PublicKeyPath string

	// Issuer is the expected token issuer (iss claim). If empty, issuer is not validated.
	Issuer string

	// Audience is the expected token audience (aud claim). If empty, audience is not validated.
	Audience string

	// Logger for debugging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewJWTIdentityExtractor creates an IdentityExtractor that reads the caller
// from an "Authorization: Bearer <token>" header.
//
// If PublicKeyPath is set, tokens are verified with RS256. Otherwise they are
// parsed without verification, which is only safe behind a proxy that has
// already validated them. Tokens without a user claim are rejected.
func NewJWTIdentityExtractor(cfg JWTConfig) (IdentityExtractor, error) {
	if cfg.UserClaim == "" {
		cfg.UserClaim = "sub"
	}
	if cfg.NameClaim == "" {
		cfg.NameClaim = "name"
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.CuratorValue == "" {
		cfg.CuratorValue = string(RoleCurator)
	}
	if cfg.AdminValue == "" {
		cfg.AdminValue = string(RoleAdmin)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		key, err := loadRSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		publicKey = key
		cfg.Logger.Info("JWT identity extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT identity extractor: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return func(r *http.Request) (Identity, bool) {
		token := extractBearerToken(r)
		if token == "" {
			return Identity{}, false
		}

		claims, err := parseJWTClaims(token, publicKey, cfg)
		if err != nil {
			cfg.Logger.Debug("JWT parse failed", "error", err)
			return Identity{}, false
		}

		user, _ := lookupClaim(claims, cfg.UserClaim).(string)
		if user == "" {
			return Identity{}, false
		}
		name, _ := lookupClaim(claims, cfg.NameClaim).(string)

		return Identity{
			User: user,
			Name: name,
			Role: roleFromClaim(lookupClaim(claims, cfg.RoleClaim), cfg),
		}, true
	}, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key from %s: %w", path, err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from %s", path)
	}
	parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := parsedKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
	}
	return rsaKey, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// parseJWTClaims parses and optionally verifies a JWT token.
func parseJWTClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTConfig) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	var token *jwt.Token
	var err error

	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, parserOpts...)
	} else {
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
		if err == nil {
			// ParseUnverified skips claim validation; exp/iss/aud still apply.
			err = jwt.NewValidator(parserOpts...).Validate(token.Claims)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	return claims, nil
}

// lookupClaim walks a dot-separated claim path. Returns nil if any segment
// is missing.
func lookupClaim(claims jwt.MapClaims, path string) any {
	var current any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// roleFromClaim maps a string or array claim to the highest matching role.
func roleFromClaim(v any, cfg JWTConfig) Role {
	var values []string
	switch c := v.(type) {
	case string:
		values = []string{c}
	case []any:
		for _, item := range c {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}

	role := RoleUser
	for _, s := range values {
		switch {
		case strings.EqualFold(s, cfg.AdminValue):
			return RoleAdmin
		case strings.EqualFold(s, cfg.CuratorValue):
			role = RoleCurator
		}
	}
	return role
}
