package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledSerialMux_SubscribersClosed(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	d.Unsubscribe(id)
	if _, ok := <-ch1; ok {
		t.Error("ch1 should be closed on Unsubscribe")
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch2; ok {
		t.Error("ch2 should be closed on Close")
	}

	_, ch3 := d.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("subscribing after Close should return a closed channel")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestDisabledSerialMux_MonitorBlocksUntilCancel(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor() = %v", err)
	}
	if err := d.SendCommand("BEEP"); err != nil {
		t.Errorf("SendCommand() = %v", err)
	}
}

func TestDisabledSerialMux_AdminRoute(t *testing.T) {
	mux := http.NewServeMux()
	NewDisabledSerialMux().AttachAdminRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/rfid-disabled", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "badge reader disabled" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestMockSerialMux_EmitsLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux := NewMockSerialMux(ctx, []string{"Dev User,42,U"}, 5*time.Millisecond)
	defer mux.Close()
	_, ch := mux.Subscribe()
	go mux.Monitor(ctx)

	if got := recv(t, ch); got != "Dev User,42,U" {
		t.Errorf("line = %q", got)
	}
}
