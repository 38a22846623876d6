package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-roadmap/internal/middleware"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func protectedApp(opts middleware.AuthOptions) *fiber.App {
	app := fiber.New()
	app.Use(middleware.JWTProtected(testSecret))
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user": middleware.UserID(c), "token": middleware.AccessToken(c)})
	}, opts))
	return app
}

func TestJWTProtectedStoresSubjectAndToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"sub": "user-9", "exp": time.Now().Add(time.Hour).Unix()})
	app := protectedApp(middleware.AuthOptions{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsMissingAndInvalidTokens(t *testing.T) {
	app := protectedApp(middleware.AuthOptions{})

	resp := perform(t, app, "")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = perform(t, app, "Bearer not-a-jwt")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	expired := signToken(t, jwt.MapClaims{"sub": "user-9", "exp": time.Now().Add(-time.Hour).Unix()})
	resp = perform(t, app, "Bearer "+expired)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	noSubject := signToken(t, jwt.MapClaims{"role": "student"})
	resp = perform(t, app, "Bearer "+noSubject)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWithAuthStudentRole(t *testing.T) {
	app := protectedApp(middleware.AuthOptions{Role: middleware.AuthRoleStudent})

	student := signToken(t, jwt.MapClaims{"sub": float64(10), "role": "Student"})
	resp := perform(t, app, "Bearer "+student)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	roleless := signToken(t, jwt.MapClaims{"sub": "11"})
	resp = perform(t, app, "Bearer "+roleless)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	admin := signToken(t, jwt.MapClaims{"sub": "12", "roles": []string{"admin"}})
	resp = perform(t, app, "Bearer "+admin)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestWithAuthRequiresAuthenticatedUser(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{Role: middleware.AuthRoleAny}))

	resp := perform(t, app, "")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func perform(t *testing.T, app *fiber.App, authorization string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}
