package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"escrow/internal/models"
	"escrow/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New()
	auth := NewAuthMiddleware(testSecret, nil)
	app.Get("/me", auth.Handler, func(c *fiber.Ctx) error {
		claims, err := utils.GetUserClaims(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"user_id": claims.UserID})
	})
	app.Post("/resolve", auth.Handler, RequireArbiter, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Post("/admin", auth.Handler, RequireRole(models.PlatformRoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func token(t *testing.T, userID uint, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(testSecret, &models.UserClaims{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestAuthMiddleware_Handler(t *testing.T) {
	app := newApp()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fiber.StatusUnauthorized},
		{"garbage token", "Bearer abc", fiber.StatusUnauthorized},
		{"valid token", token(t, 5, models.PlatformRoleUser), fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAuthMiddleware_StoresClaimsOnly(t *testing.T) {
	app := fiber.New()
	auth := NewAuthMiddleware(testSecret, nil)
	app.Get("/locals", auth.Handler, func(c *fiber.Ctx) error {
		claims, err := utils.GetUserClaims(c)
		require.NoError(t, err)
		assert.Equal(t, uint(5), claims.UserID)
		assert.Nil(t, c.Locals("userID"))
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/locals", nil)
	req.Header.Set(fiber.HeaderAuthorization, token(t, 5, models.PlatformRoleUser))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestRequireArbiter(t *testing.T) {
	app := newApp()

	for role, want := range map[string]int{
		models.PlatformRoleUser:    fiber.StatusForbidden,
		models.PlatformRoleArbiter: fiber.StatusNoContent,
		models.PlatformRoleAdmin:   fiber.StatusNoContent,
	} {
		req := httptest.NewRequest(fiber.MethodPost, "/resolve", nil)
		req.Header.Set(fiber.HeaderAuthorization, token(t, 9, role))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, role)
	}
}

func TestRequireRole(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest(fiber.MethodPost, "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, token(t, 9, models.PlatformRoleArbiter))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, token(t, 9, models.PlatformRoleAdmin))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
