package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/taldoflemis/campusdarpio/darpio"
	"github.com/taldoflemis/campusdarpio/pacchetto/retry"
	"github.com/taldoflemis/campusdarpio/pacchetto/transport"
)

// statusFor maps a data access error to the status the SPA receives.
func statusFor(err error) int {
	var verr *darpio.ValidationError
	var statusErr *transport.StatusError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, darpio.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, retry.ErrExhausted):
		return http.StatusServiceUnavailable
	case errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
		return statusErr.StatusCode
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// upstreamMessage pulls the message out of a backend problem body.
func upstreamMessage(statusErr *transport.StatusError) string {
	var body struct {
		Title   string `json:"title"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal([]byte(statusErr.Body), &body) == nil {
		for _, m := range []string{body.Title, body.Message, body.Error} {
			if m != "" {
				return m
			}
		}
	}
	return http.StatusText(statusErr.StatusCode)
}

func writeError(c echo.Context, err error) error {
	ctx := c.Request().Context()
	code := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var verr *darpio.ValidationError
	var statusErr *transport.StatusError
	switch {
	case errors.As(err, &verr):
		resp.Fields = verr.Fields
	case code < 500 && errors.As(err, &statusErr):
		resp.Error = upstreamMessage(statusErr)
	}

	if code >= 500 {
		slog.ErrorContext(ctx, "request to backend failed", slog.Int("status", code), slog.Any("err", err))
	} else {
		slog.InfoContext(ctx, "request rejected", slog.Int("status", code), slog.Any("err", err))
	}
	return c.JSON(code, resp)
}
