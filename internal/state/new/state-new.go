// Sorry, workaround to import cycles.
package state_new

import (
	"context"
	"os"
	"testing"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/w1temp/hardware/ds18"
	"github.com/temoto/w1temp/internal/state"
	"github.com/temoto/w1temp/log2"
	tele_api "github.com/temoto/w1temp/tele"
)

func NewContext(log *log2.Log, teler tele_api.Teler) (context.Context, *state.Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &state.Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  teler,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, state.ContextKey, g)

	return ctx, g
}

// NewTestContext builds Global from inline config with in-memory tele and mock 1-Wire bus.
// Mock bus is available as g.Hardware.Onewire.Bus.(*ds18.MockBus).
func NewTestContext(t testing.TB, confString string) (context.Context, *state.Global) {
	fs := state.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("w1temp_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log, tele_api.NewRecorder())
	g.BuildVersion = "test"
	g.Hardware.Onewire.Bus = &ds18.MockBus{}

	cfg, err := state.ReadConfig(log, fs, "test-inline")
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	if cfg.Persist.Root == "" {
		cfg.Persist.Root = t.TempDir()
	}
	if err := g.Init(ctx, cfg); err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	t.Cleanup(g.Shutdown)

	return ctx, g
}

// MockBus returns test bus set by NewTestContext.
func MockBus(t testing.TB, g *state.Global) *ds18.MockBus {
	b, ok := g.Hardware.Onewire.Bus.(*ds18.MockBus)
	if !ok {
		t.Fatalf("code error Hardware.Onewire.Bus=%T expected *ds18.MockBus", g.Hardware.Onewire.Bus)
	}
	return b
}

// Recorder returns in-memory tele set by NewTestContext.
func Recorder(t testing.TB, g *state.Global) *tele_api.Recorder {
	r, ok := g.Tele.(*tele_api.Recorder)
	if !ok {
		t.Fatalf("code error Tele=%T expected *tele.Recorder", g.Tele)
	}
	return r
}
