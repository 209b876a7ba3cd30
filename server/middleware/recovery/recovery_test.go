package recovery

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omalloc/chunksync/conf"
)

func TestRecovery(t *testing.T) {
	r := New(&conf.ServerRecovery{FailCountThreshold: 2, FailWindow: time.Hour})
	defer r.Close()

	h := r.Handle(func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, r.Healthy())

	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, r.Healthy())
}

func TestRecoveryWindowResets(t *testing.T) {
	r := New(&conf.ServerRecovery{FailCountThreshold: 1, FailWindow: 10 * time.Millisecond})
	defer r.Close()

	r.Handle(func(http.ResponseWriter, *http.Request) { panic("boom") })(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, r.Healthy())
	assert.Eventually(t, r.Healthy, time.Second, 5*time.Millisecond)
}

func TestRecoveryPassThrough(t *testing.T) {
	r := New(nil)
	w := httptest.NewRecorder()
	r.Handle(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.True(t, r.Healthy())
}
