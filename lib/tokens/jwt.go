package tokens

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/lib/responses"
)

type jwtCustomClaims struct {
	ID   string `json:"id"`
	Role string `json:"role"`

	jwt.StandardClaims
}

// GenerateToken signs a HS256 token carrying the actor's id and role.
func GenerateToken(secret []byte, actor common.Actor, expiry time.Duration) (string, error) {
	claims := &jwtCustomClaims{
		ID:   actor.UserID,
		Role: actor.Role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(expiry).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	t, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}
	return t, nil
}

// ParseToken validates the signature and expiry of a token issued by GenerateToken.
func ParseToken(secret []byte, raw string) (common.Actor, error) {
	claims := &jwtCustomClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return common.Actor{}, err
	}
	if claims.ID == "" || claims.Role == "" {
		return common.Actor{}, errors.New("token is missing id or role")
	}
	return common.Actor{UserID: claims.ID, Role: claims.Role}, nil
}

// Middleware puts the actor of a bearer token on the request context.
// Requests without a token act as the system actor. With an empty secret
// the middleware does nothing.
func Middleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(secret) == 0 {
			return next
		}
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return next(c)
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return c.JSON(http.StatusUnauthorized, responses.BadAuthError)
			}
			actor, err := ParseToken(secret, raw)
			if err != nil {
				c.Logger().Debugf("rejected token: %v", err)
				return c.JSON(http.StatusUnauthorized, responses.BadAuthError)
			}
			c.Set("UserID", actor.UserID)
			req := c.Request()
			c.SetRequest(req.WithContext(common.WithActor(req.Context(), actor)))
			return next(c)
		}
	}
}
