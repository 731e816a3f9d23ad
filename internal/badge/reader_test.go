package badge

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func TestQueueReader_Bounded(t *testing.T) {
	q := NewQueueReader(1)
	if _, ok := q.NextTap(); ok {
		t.Fatal("empty queue returned a tap")
	}
	if !q.Push(tapAt("A", 0)) {
		t.Fatal("first push should fit")
	}
	if q.Push(tapAt("B", 0)) {
		t.Error("push into a full queue should fail")
	}
	tap, ok := q.NextTap()
	if !ok || tap.CardID != "A" {
		t.Errorf("NextTap() = %+v, %v", tap, ok)
	}
}

func TestSerialReader_ParsesLines(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	t.Cleanup(func() { port.Close() })
	mux := serialmux.NewSerialMux(port)
	clock := timeutil.NewMockClock(t0)
	r := NewSerialReader(mux, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	// Run subscribes asynchronously; keep feeding until the tap lands.
	deadline := time.After(2 * time.Second)
	for {
		port.AddReadData("garbage line\nAyşe,1700000000,A\n")
		time.Sleep(10 * time.Millisecond)
		if tap, ok := r.NextTap(); ok {
			if tap.CardID != "1700000000" || !tap.IsAdmin || tap.DisplayName != "Ayse" || !tap.At.Equal(t0) {
				t.Errorf("tap = %+v", tap)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no tap parsed")
		default:
		}
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
