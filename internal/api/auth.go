package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const tokenExpiry = 24 * time.Hour

// authEnabled reports whether the API requires a token. Auth is off
// until a password hash is configured.
func (s *Server) authEnabled() bool {
	return s.deps.Config.Auth.PasswordHash != ""
}

func (s *Server) login(c echo.Context) error {
	if !s.authEnabled() {
		return echo.NewHTTPError(http.StatusBadRequest, "authentication is not configured")
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := bcrypt.CompareHashAndPassword(
		[]byte(s.deps.Config.Auth.PasswordHash), []byte(body.Password))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid password")
	}

	claims := jwt.RegisteredClaims{
		Subject:   "scenepilot",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExpiry)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.deps.Config.Auth.JWTSecret))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to sign token")
	}

	return c.JSON(http.StatusOK, map[string]string{"token": signed})
}

// authMiddleware validates the bearer token on every API route when
// auth is configured. The WebSocket path also accepts ?token= because
// browsers cannot set headers on WebSocket upgrades.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !s.authEnabled() {
				return next(c)
			}

			raw := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if raw == "" {
				raw = c.QueryParam("token")
			}
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization token")
			}

			_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
				func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(s.deps.Config.Auth.JWTSecret), nil
				})
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			return next(c)
		}
	}
}
