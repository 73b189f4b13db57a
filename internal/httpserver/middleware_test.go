package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clachance14/pipetrak/internal/util"
	"github.com/clachance14/pipetrak/pkg/rbac"
)

const testSecret = "test-secret"

func protectedRouter(permission string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/api", AuthMiddleware(testSecret))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString("user_id"),
			"role":    c.GetString("role"),
		})
	}
	if permission != "" {
		group.GET("/whoami", RequirePermission(permission), handler)
	} else {
		group.GET("/whoami", handler)
	}
	return r
}

func doGet(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token, err := util.GenerateJWT("user-7", rbac.RoleForeman, testSecret)
	require.NoError(t, err)

	w := doGet(protectedRouter(""), token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-7")
	assert.Contains(t, w.Body.String(), rbac.RoleForeman)
}

func TestAuthMiddleware_RejectsMissingAndInvalidTokens(t *testing.T) {
	r := protectedRouter("")

	w := doGet(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doGet(r, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := util.GenerateJWT("user-7", rbac.RoleAdmin, "other-secret")
	require.NoError(t, err)
	w = doGet(r, forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePermission_GatesByRole(t *testing.T) {
	r := protectedRouter(rbac.PermissionBulkUpdate)

	viewer, err := util.GenerateJWT("user-1", rbac.RoleViewer, testSecret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, doGet(r, viewer).Code)

	foreman, err := util.GenerateJWT("user-2", rbac.RoleForeman, testSecret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doGet(r, foreman).Code)

	// A token without a role claim falls back to the craft role, which
	// may update single milestones but never bulk.
	craft := protectedRouter(rbac.PermissionUpdateMilestone)
	noRole, err := util.GenerateJWT("user-3", "", testSecret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, doGet(r, noRole).Code)
	assert.Equal(t, http.StatusOK, doGet(craft, noRole).Code)
}
