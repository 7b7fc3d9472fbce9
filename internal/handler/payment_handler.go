package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"
	"coursemarket/internal/middleware"
	"coursemarket/internal/usecase"

	"github.com/labstack/echo/v4"
)

// Webhook本文の上限
const maxWebhookBody = 1 << 20

// 決済プロバイダからの戻り・通知を受ける。JWTは無い。
type PaymentHandler struct {
	uc          *usecase.PaymentCallbackUsecase
	feURL       string
	sepayAPIKey string
}

func NewPaymentHandler(uc *usecase.PaymentCallbackUsecase, feURL string, sepayAPIKey string) *PaymentHandler {
	return &PaymentHandler{
		uc:          uc,
		feURL:       strings.TrimRight(feURL, "/"),
		sepayAPIKey: sepayAPIKey,
	}
}

// WebhookResponse はSePayに返す形。200以外だと再送される。
type WebhookResponse struct {
	Success          bool   `json:"success"`
	AlreadyProcessed bool   `json:"already_processed"`
	OrderNumber      string `json:"order_number,omitempty"`
	Status           string `json:"status,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/payments")

	g.GET("/vnpay/return", h.vnpayReturn)
	g.GET("/vnpay/ipn", h.vnpayIPN)
	g.POST("/sepay/webhook", h.sepayWebhook, middleware.WebhookAPIKey(h.sepayAPIKey))
}

// ブラウザが戻ってくる。結果はフロントの画面にリダイレクトで渡す。
func (h *PaymentHandler) vnpayReturn(c echo.Context) error {
	out, err := h.uc.HandleReturn(c.Request().Context(), model.ProviderVNPay, gateway.Callback{
		Params: c.QueryParams(),
	})

	q := url.Values{}
	switch {
	case err == nil:
		q.Set("order", out.OrderNumber)
		q.Set("already_processed", strconv.FormatBool(out.AlreadyProcessed))
		if out.Success {
			q.Set("status", "success")
		} else {
			q.Set("status", "failed")
		}
	case errors.Is(err, gateway.ErrSignature):
		q.Set("status", "invalid_signature")
	case errors.Is(err, usecase.ErrLookup):
		q.Set("status", "not_found")
	default:
		q.Set("status", "error")
	}

	return c.Redirect(http.StatusFound, h.feURL+"/checkout/result?"+q.Encode())
}

// サーバー間通知。VNPayは常に200で RspCode を見る。
func (h *PaymentHandler) vnpayIPN(c echo.Context) error {
	res := h.uc.HandleVNPayIPN(c.Request().Context(), gateway.Callback{
		Params: c.QueryParams(),
	})
	return c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) sepayWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, WebhookResponse{Error: "invalid body"})
	}

	out, err := h.uc.HandleWebhook(c.Request().Context(), model.ProviderSePay, gateway.Callback{Body: body})
	if err != nil {
		status := http.StatusInternalServerError
		msg := "internal error"
		if he, ok := usecase.AsHTTPError(err); ok {
			status = he.Status
			msg = he.Message
		}
		return c.JSON(status, WebhookResponse{Error: msg})
	}

	// 成功・失敗・処理済みのどれでも受け取ったことは伝える
	return c.JSON(http.StatusOK, WebhookResponse{
		Success:          true,
		AlreadyProcessed: out.AlreadyProcessed,
		OrderNumber:      out.OrderNumber,
		Status:           string(out.Status),
	})
}
