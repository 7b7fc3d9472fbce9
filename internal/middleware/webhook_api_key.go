package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Webhookの送り主によってキーの置き場所が違うので、順に探す
var apiKeyHeaders = []string{"X-Api-Key", "Apikey", "X-Sepay-Api-Key"}

// WebhookAPIKey はプロバイダのWebhookに付くAPIキーを確認する。
// Authorization: Apikey <key> / Bearer <key>（スキームは大文字小文字を区別しない）か、専用ヘッダ。
func WebhookAPIKey(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expected == "" {
				// 未設定なら通さない
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			got := apiKeyFromRequest(c.Request())
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}
			return next(c)
		}
	}
}

func apiKeyFromRequest(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) == 2 && (strings.EqualFold(parts[0], "Apikey") || strings.EqualFold(parts[0], "Bearer")) {
			return strings.TrimSpace(parts[1])
		}
	}
	for _, h := range apiKeyHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return ""
}
