package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/retifica-erp/retifica/internal/observability"
	"github.com/retifica-erp/retifica/internal/shared"
)

var testJWT = JWTConfig{
	SigningKey: []byte("test-signing-key-1234567890123456"),
	Issuer:     "retifica",
	ExpiresIn:  time.Hour,
}

type whoami struct{}

func (whoami) MountRoutes(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		_, _ = w.Write([]byte(actor.Ref() + "/" + actor.Role))
	})
}

func newTestRouter() http.Handler {
	return NewRouter(RouterParams{
		Logger:      newLogger(new(bytes.Buffer), nil),
		JWT:         testJWT,
		Procurement: whoami{},
		Metrics:     observability.NewMetrics(),
	})
}

func TestValidateTokenRoundTrip(t *testing.T) {
	token, _, err := GenerateToken(testJWT, shared.Actor{ID: 7, OrgID: 1, Role: "Gerente"})
	require.NoError(t, err)

	actor, err := testJWT.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, shared.Actor{ID: 7, OrgID: 1, Role: "gerente"}, actor)
}

func TestValidateTokenRejectsIssuerAndOrg(t *testing.T) {
	other := testJWT
	other.Issuer = "someone-else"
	token, _, err := GenerateToken(other, shared.Actor{ID: 7, OrgID: 1})
	require.NoError(t, err)
	_, err = testJWT.ValidateToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	token, _, err = GenerateToken(testJWT, shared.Actor{ID: 7})
	require.NoError(t, err)
	_, err = testJWT.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	expired := testJWT
	expired.ExpiresIn = -time.Minute
	token, _, err := GenerateToken(expired, shared.Actor{ID: 7, OrgID: 1})
	require.NoError(t, err)
	_, err = testJWT.ValidateToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestRouterRequiresBearerToken(t *testing.T) {
	router := newTestRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/procurement/whoami", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, _, err := GenerateToken(testJWT, shared.Actor{ID: 9, OrgID: 1, Role: "admin"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/procurement/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "9/admin", rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRouterPublicEndpoints(t *testing.T) {
	router := newTestRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "retifica_http_requests_total"))
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", strings.Repeat("k", 32))
	t.Setenv("ESCALATION_AFTER", "24h")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, cfg.EscalationAfter)
	require.Equal(t, "pt-BR", cfg.NotifyLocale)
	require.Equal(t, 2, cfg.ConditionalReminderDays)
}
