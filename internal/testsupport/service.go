package testsupport

import (
	"context"
	"testing"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/mediasvc/emulator"
)

// NewEmulator starts an emulated media service using the config's job
// timings and closes it when the test ends.
func NewEmulator(t testing.TB, cfg *config.Config) *emulator.Service {
	t.Helper()

	svc := emulator.New(emulator.Options{
		ScheduleDelay:    time.Duration(cfg.Emulator.ScheduleDelayMS) * time.Millisecond,
		ProcessingTime:   time.Duration(cfg.Emulator.ProcessingTimeMS) * time.Millisecond,
		MaxReservedUnits: cfg.Emulator.MaxReservedUnits,
		Processors:       []string{cfg.Indexing.Processor},
	})
	t.Cleanup(svc.Close)
	return svc
}

// ReserveUnits declares the config's reserved-unit quota on svc.
func ReserveUnits(t testing.TB, svc mediasvc.Service, cfg *config.Config) {
	t.Helper()

	units := mediasvc.ReservedUnits{Count: cfg.Indexing.ReservedUnits, Type: mediasvc.ReservedUnitType(cfg.Indexing.ReservedUnitType)}
	if err := svc.SetReservedUnits(context.Background(), units); err != nil {
		t.Fatalf("SetReservedUnits: %v", err)
	}
}

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
