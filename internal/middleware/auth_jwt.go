package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"coursemarket/internal/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey   = "user_id"   // int64
	CtxUserRoleKey = "user_role" // string
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

var errUnauthorized = errors.New("unauthorized")

// Principal はトークンから取り出した利用者
type Principal struct {
	UserID int64
	Role   string
}

// AuthJWT はBearerトークンを検証して user_id / role をcontextに入れる。
// 発行は認証サービス側なので、ここではHS256の署名と sub / role / exp だけ見る。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	secret := []byte(cfg.JWTSecret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := authenticate(parser, secret, c.Request().Header.Get("Authorization"))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			c.Set(CtxUserIDKey, p.UserID)
			c.Set(CtxUserRoleKey, p.Role)
			return next(c)
		}
	}
}

func authenticate(parser *jwt.Parser, secret []byte, authz string) (Principal, error) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(authz), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Principal{}, errUnauthorized
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, errUnauthorized
	}

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, errUnauthorized
	}

	userID, err := subjectID(claims["sub"])
	if err != nil || userID <= 0 {
		return Principal{}, errUnauthorized
	}
	role, _ := claims["role"].(string)
	if role == "" {
		return Principal{}, errUnauthorized
	}

	return Principal{UserID: userID, Role: strings.ToUpper(role)}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}

// sub は数値でも文字列でも受ける
func subjectID(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errors.New("invalid sub")
	}
}
