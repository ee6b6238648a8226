package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/san-kum/fluidsim/internal/kernel"
	"github.com/san-kum/fluidsim/internal/loop"
	"github.com/san-kum/fluidsim/internal/state"
)

func newTestServer(t *testing.T) (*gin.Engine, *state.Fluid, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := state.New(1)
	l := loop.New(f, kernel.DefaultConfig(), nil, 500)
	_, router := New(f, l, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	return router, f, cancel
}

func TestHandleInject(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	body, _ := json.Marshal(map[string]any{"concept": "idea", "density": 0.4, "volume": 1.0})
	req := httptest.NewRequest(http.MethodPost, "/inject", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["name"] != "idea" {
		t.Errorf("name = %v, want idea", resp["name"])
	}
	if _, ok := resp["initial_layer"]; !ok {
		t.Error("expected an initial_layer field in the inject response")
	}
}

func TestHandleInjectRejectsBadDensity(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	body, _ := json.Marshal(map[string]any{"concept": "bad", "density": 5.0})
	req := httptest.NewRequest(http.MethodPost, "/inject", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleBallastReturnsNoContent(t *testing.T) {
	router, f, stop := newTestServer(t)
	defer stop()

	c := f.InsertConcept("ballasted", 0.4, 1.0)

	body, _ := json.Marshal(map[string]any{"id": c.ID.String(), "weight_delta": 0.1})
	req := httptest.NewRequest(http.MethodPatch, "/ballast", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestHandleThawReturnsNoContent(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	req := httptest.NewRequest(http.MethodPost, "/thaw", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleVentsReturnsBareArray(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/vents", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected a bare JSON array, got: %s (%v)", rec.Body.String(), err)
	}
}

func TestHandleContinentsReturnsBareArray(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/continents", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected a bare JSON array, got: %s (%v)", rec.Body.String(), err)
	}
}

func TestHandleStrataIncludesCounts(t *testing.T) {
	router, f, stop := newTestServer(t)
	defer stop()
	f.InsertConcept("shallow", 0.4, 1.0)

	req := httptest.NewRequest(http.MethodGet, "/strata", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["depth_range"]; !ok {
		t.Error("expected a depth_range field")
	}
	if _, ok := resp["total_concepts"]; !ok {
		t.Error("expected a total_concepts field")
	}
	if _, ok := resp["total_ores"]; !ok {
		t.Error("expected a total_ores field")
	}
}

func TestHandleState(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleVentNotFound(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/vent/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDivisionStatusIdle(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/divide/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "idle" {
		t.Errorf("status = %v, want idle", resp["status"])
	}
}

func TestHandleStartDivisionThenBusy(t *testing.T) {
	router, _, stop := newTestServer(t)
	defer stop()

	body, _ := json.Marshal(map[string]any{"dividend": 10, "divisor": 3})
	req := httptest.NewRequest(http.MethodPost, "/divide", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	time.Sleep(20 * time.Millisecond)

	req2 := httptest.NewRequest(http.MethodPost, "/divide", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 while a division experiment is running", rec2.Code)
	}
}

func TestHandleWSInjectCommandAcks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := state.New(1)
	l := loop.New(f, kernel.DefaultConfig(), nil, 500)
	_, router := New(f, l, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame, _ := json.Marshal(map[string]any{"command": "Inject", "name": "hope", "density": 0.3, "volume": 1.0})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var resp map[string]any
		if err := json.Unmarshal(msg, &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp["command"] != "Inject" {
			continue // an event frame arrived first; keep waiting for the ack
		}
		if resp["error"] != nil {
			t.Fatalf("unexpected error: %v", resp["error"])
		}
		if resp["ack"] != true {
			t.Errorf("ack = %v, want true", resp["ack"])
		}
		result, _ := resp["result"].(map[string]any)
		if result["name"] != "hope" {
			t.Errorf("result.name = %v, want hope", result["name"])
		}
		break
	}
}
