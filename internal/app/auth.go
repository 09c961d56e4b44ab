package app

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/retifica-erp/retifica/internal/platform/httpx"
	"github.com/retifica-erp/retifica/internal/shared"
)

// Claims carries the actor identity in bearer tokens. Subject is the user id.
type Claims struct {
	Role  string `json:"role"`
	OrgID int64  `json:"org"`
	jwt.RegisteredClaims
}

// JWTConfig holds token signing configuration.
type JWTConfig struct {
	SigningKey []byte
	Issuer     string
	ExpiresIn  time.Duration
}

// GenerateToken signs a token for the actor.
func GenerateToken(cfg JWTConfig, actor shared.Actor) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(cfg.ExpiresIn)
	claims := Claims{
		Role:  actor.Role,
		OrgID: actor.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   strconv.FormatInt(actor.ID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses a token and maps it to an actor.
func (cfg JWTConfig) ValidateToken(raw string) (shared.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return shared.Actor{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return shared.Actor{}, errors.New("invalid token claims")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	if claims.OrgID <= 0 {
		return shared.Actor{}, errors.New("token carries no organization")
	}
	return shared.Actor{ID: id, OrgID: claims.OrgID, Role: strings.ToLower(claims.Role)}, nil
}

// Authenticate requires a valid bearer token and stores the actor in context.
func Authenticate(cfg JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			actor, err := cfg.ValidateToken(strings.TrimSpace(raw))
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err))
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}
