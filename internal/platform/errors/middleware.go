package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPErrorsTotal tracks HTTP errors by type
var HTTPErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Total HTTP errors by error type",
	},
	[]string{"type"},
)

// Translator maps errors from lower layers onto structured errors. It
// returns nil for errors it does not recognise.
type Translator func(err error) *Error

// Middleware converts errors returned by handlers into JSON responses.
// Errors are passed through translate first, when given. Echo's own
// HTTPErrors are counted and left to Echo's error handler.
func Middleware(translate Translator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				HTTPErrorsTotal.WithLabelValues(string(WrapHTTPError(httpErr).Type)).Inc()
				return err
			}

			return respond(c, structure(err, translate))
		}
	}
}

func structure(err error, translate Translator) *Error {
	if translate != nil {
		if translated := translate(err); translated != nil {
			return translated
		}
	}
	return AsStructuredError(err)
}

func respond(c echo.Context, err *Error) error {
	HTTPErrorsTotal.WithLabelValues(string(err.Type)).Inc()
	logError(c, err)
	if err := c.JSON(err.HTTPStatus(), err.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, err *Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case TypeValidation, TypeNotFound, TypeForbidden:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case TypeConflict, TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Request failed", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

// HandleError writes err as a structured response from inside a handler.
func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	return respond(c, AsStructuredError(err))
}

// WrapHTTPError converts Echo's HTTPError to a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = TypeValidation
	case http.StatusForbidden:
		errType = TypeForbidden
	case http.StatusNotFound:
		errType = TypeNotFound
	case http.StatusConflict:
		errType = TypeConflict
	case http.StatusBadGateway:
		errType = TypeExternal
	case http.StatusServiceUnavailable:
		errType = TypeUnavailable
	default:
		errType = TypeInternal
	}

	return newError(errType, message, httpErr.Internal)
}
