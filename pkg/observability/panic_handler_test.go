package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "job")
		panic("kaboom")
	}()

	entry := decodeLine(t, &buf)
	assert.Equal(t, "PANIC recovered", entry["msg"])
	assert.Equal(t, "kaboom", entry["panic"])
	assert.Equal(t, "job", entry["context"])
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(NewLogger(ErrorLevel, &bytes.Buffer{}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/billing/dashboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
