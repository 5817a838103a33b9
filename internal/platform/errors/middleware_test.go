package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newErrorsCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_http_errors_total"}, []string{"type"})
}

func runMiddleware(t *testing.T, counter *prometheus.CounterVec, handlerErr error) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Middleware(counter)(func(echo.Context) error { return handlerErr })(c)
	return rec, err
}

func TestMiddleware_StructuredError(t *testing.T) {
	counter := newErrorsCounter()

	rec, err := runMiddleware(t, counter, ValidationError("invalid limit"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid limit", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("validation")))
}

func TestMiddleware_PlainErrorBecomesInternal(t *testing.T) {
	counter := newErrorsCounter()

	rec, err := runMiddleware(t, counter, errors.New("standard error"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "standard error")
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("internal")))
}

func TestMiddleware_EchoHTTPErrorPassesThrough(t *testing.T) {
	counter := newErrorsCounter()
	httpErr := echo.NewHTTPError(http.StatusNotFound)

	_, err := runMiddleware(t, counter, httpErr)

	assert.Same(t, httpErr, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("not_found")))
}

func TestMiddleware_NilCounter(t *testing.T) {
	rec, err := runMiddleware(t, nil, InternalError("boom", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiddleware_NoError(t *testing.T) {
	rec, err := runMiddleware(t, newErrorsCounter(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}
