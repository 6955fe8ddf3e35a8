package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HouzuoGuo/adcycle/misc"
)

func TestHandlePrometheus_HandleWithPromIntegDisabled(t *testing.T) {
	misc.EnablePrometheusIntegration = false
	handler := &HandlePrometheus{}
	if err := handler.Initialise(); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("%+v", w.Result())
	}
}

func TestHandlePrometheus_HandleWithPromIntegEnabled(t *testing.T) {
	misc.EnablePrometheusIntegration = true
	defer func() {
		misc.EnablePrometheusIntegration = false
	}()
	handler := &HandlePrometheus{}
	if err := handler.Initialise(); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("%+v", w.Result())
	}
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "go_memstats_heap_objects") {
		t.Fatalf("missing metrics readings from response body: %s", string(body))
	}
}
