package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/machine-allocator/internal/infrastructure/influxdb"
	"github.com/nerrad567/machine-allocator/internal/machine"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.ObserveTransition(ctx, machine.Event{MachineID: "m1", From: machine.StatusAvailable, To: machine.StatusAwaitingDropoff})
	m.ObserveTransition(ctx, machine.Event{MachineID: "m2", From: machine.StatusAvailable, To: machine.StatusAwaitingDropoff})
	m.ObserveTransition(ctx, machine.Event{MachineID: "m1", From: machine.StatusAwaitingDropoff, To: machine.StatusError})
	m.ObserveResult("request_allocation", machine.CodeOK, 3*time.Millisecond)
	m.ObserveResult("start_machine", machine.CodeHardwareError, time.Second)
	m.ObserveUnauthorized()

	body := scrape(t, m)
	for _, want := range []string{
		`machinealloc_machine_transitions_total{from="AVAILABLE",to="AWAITING_DROPOFF"} 2`,
		`machinealloc_machine_transitions_total{from="AWAITING_DROPOFF",to="ERROR"} 1`,
		`machinealloc_operation_results_total{code="OK",operation="request_allocation"} 1`,
		`machinealloc_operation_results_total{code="HARDWARE_ERROR",operation="start_machine"} 1`,
		`machinealloc_operation_duration_seconds_count{operation="start_machine"} 1`,
		`machinealloc_unauthorized_requests_total 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.ObserveUnauthorized()

	if !strings.Contains(scrape(t, b), "machinealloc_unauthorized_requests_total 0") {
		t.Error("metrics leaked between registries")
	}
}

type recordingWriter struct {
	got []influxdb.Transition
}

func (w *recordingWriter) WriteTransition(t influxdb.Transition) {
	w.got = append(w.got, t)
}

func TestInfluxObserver(t *testing.T) {
	w := &recordingWriter{}
	o := NewInfluxObserver(w)
	job := "job-1"
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	o.ObserveTransition(context.Background(), machine.Event{
		MachineID: "m1", LocationID: "loc-1", JobID: &job,
		From: machine.StatusAvailable, To: machine.StatusAwaitingDropoff, At: at,
	})
	o.ObserveTransition(context.Background(), machine.Event{
		MachineID: "m1", LocationID: "loc-1",
		From: machine.StatusError, To: machine.StatusAvailable, At: at,
	})

	want := []influxdb.Transition{
		{MachineID: "m1", LocationID: "loc-1", From: "AVAILABLE", To: "AWAITING_DROPOFF", JobID: "job-1", At: at},
		{MachineID: "m1", LocationID: "loc-1", From: "ERROR", To: "AVAILABLE", At: at},
	}
	if len(w.got) != len(want) {
		t.Fatalf("wrote %d transitions, want %d", len(w.got), len(want))
	}
	for i := range want {
		if w.got[i] != want[i] {
			t.Errorf("transition %d = %+v, want %+v", i, w.got[i], want[i])
		}
	}
}
