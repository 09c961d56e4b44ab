package thresholds

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/retifica-erp/retifica/internal/rbac"
	"github.com/retifica-erp/retifica/internal/shared"
)

func newTestRouter(repo *memoryRepo, actor shared.Actor) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, nil, logger)
	h := NewHandler(logger, svc, NewResolver(repo, nil), rbac.Middleware{Logger: logger})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	r.Route("/thresholds", h.MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndResolve(t *testing.T) {
	repo := newMemoryRepo()
	admin := shared.Actor{ID: 1, OrgID: 10, Role: shared.RoleAdmin}
	router := newTestRouter(repo, admin)

	rec := do(t, router, http.MethodPost, "/thresholds", `{"min_value":"1000","max_value":"5000","approval_type":"multiple","approvers":["7","8"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Threshold
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, int64(10), created.OrgID)

	rec = do(t, router, http.MethodPost, "/thresholds", `{"min_value":"4000","approval_type":"auto"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "[1000, 5000)")

	rec = do(t, router, http.MethodGet, "/thresholds/resolve?value=4999.99", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res resolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, TypeMultiple, res.Type)
	require.False(t, res.Fallback)

	rec = do(t, router, http.MethodGet, "/thresholds/resolve?value=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerValidationProblem(t *testing.T) {
	router := newTestRouter(newMemoryRepo(), shared.Actor{ID: 1, OrgID: 10, Role: shared.RoleAdmin})
	rec := do(t, router, http.MethodPost, "/thresholds", `{"min_value":"10","max_value":"5","approval_type":"chain"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Errors, "max_value")
	require.Contains(t, problem.Errors, "approvers")
}

func TestHandlerManageRequiresAdmin(t *testing.T) {
	router := newTestRouter(newMemoryRepo(), shared.Actor{ID: 5, OrgID: 10, Role: shared.RoleComprador})
	rec := do(t, router, http.MethodPost, "/thresholds", `{"min_value":"0","approval_type":"auto"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/thresholds", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerHidesOtherOrganizations(t *testing.T) {
	repo := newMemoryRepo()
	repo.rows[1] = tier(1, bounded("0", "1000"), TypeAuto)
	router := newTestRouter(repo, shared.Actor{ID: 1, OrgID: 99, Role: shared.RoleAdmin})

	rec := do(t, router, http.MethodDelete, "/thresholds/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.True(t, repo.rows[1].IsActive)
}

func TestHandlerRemove(t *testing.T) {
	repo := newMemoryRepo()
	repo.rows[1] = tier(1, bounded("0", "1000"), TypeAuto)
	router := newTestRouter(repo, shared.Actor{ID: 1, OrgID: 1, Role: shared.RoleAdmin})

	rec := do(t, router, http.MethodDelete, "/thresholds/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, repo.rows[1].IsActive)
}
