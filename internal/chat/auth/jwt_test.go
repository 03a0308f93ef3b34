package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/pkg/xerr"
)

func TestIssueAuthenticate(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	tok, err := j.Issue(domain.Principal{ID: 7, Role: domain.RoleAdmin})
	require.NoError(t, err)

	p, err := j.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)
	assert.True(t, p.IsAdmin())
}

func TestAuthenticate_Rejects(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	ctx := context.Background()

	_, err := j.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = j.Authenticate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, _ := NewJWT("other", time.Hour).Issue(domain.Principal{ID: 1, Role: domain.RoleRegular})
	_, err = j.Authenticate(ctx, other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWT("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(domain.Principal{ID: 1, Role: domain.RoleRegular})
	require.NoError(t, err)
	_, err = j.Authenticate(ctx, old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 1, Role: "ROOT"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = j.Authenticate(ctx, badRole)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Role: domain.RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = j.Authenticate(ctx, none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.True(t, xerr.IsCode(err, xerr.Unauthorized))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("abc"))
}

func TestRequiredMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	j := NewJWT("secret", time.Hour)
	r := gin.New()
	r.GET("/me", Required(j), func(c *gin.Context) {
		p := Principal(c)
		fromCtx, ok := PrincipalFrom(c.Request.Context())
		assert.True(t, ok)
		assert.Equal(t, p, fromCtx)
		c.JSON(http.StatusOK, gin.H{"id": p.ID})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := j.Issue(domain.Principal{ID: 3, Role: domain.RoleRegular})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":3}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
