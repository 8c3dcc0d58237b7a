package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/internal/history"
	"github.com/temoto/w1temp/log2"
	tele_api "github.com/temoto/w1temp/tele"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Hardware     hardware       // hardware.go
	History      *history.Store // nil when disabled
	Log          *log2.Log
	Reading      Reading
	Tele         tele_api.Teler

	shutdown    sync.Once
	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

const DefaultPersistRoot = "./tmp-w1temp-db"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	g.Log.Infof("build version=%s", g.BuildVersion)

	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = DefaultPersistRoot
		g.Log.Errorf("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	g.Config.Tele.BuildVersion = g.BuildVersion
	if g.Config.Tele.PersistPath == "" {
		g.Config.Tele.PersistPath = filepath.Join(g.Config.Persist.Root, "tele")
	}
	// Tele.Init gets g.Log clone before SetErrorFunc, so Tele.Log.Error doesn't recurse on itself
	if err := g.Tele.Init(ctx, g.Log.Clone(log2.LInfo), g.Config.Tele); err != nil {
		g.Tele = tele_api.Noop{}
		return errors.Annotate(err, "tele init")
	}
	g.Log.SetErrorFunc(g.Tele.Error)

	if g.BuildVersion == "unknown" {
		g.Log.Infof("build version is not set, please use script/build")
	}

	const initTasks = 3
	wg := sync.WaitGroup{}
	wg.Add(initTasks)
	errch := make(chan error, initTasks)
	go helpers.WrapErrChan(&wg, errch, g.initReading) // storage read
	go helpers.WrapErrChan(&wg, errch, g.initHistory)
	go helpers.WrapErrChan(&wg, errch, g.initPower)
	wg.Wait()
	close(errch)

	return helpers.FoldErrChan(errch)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

// StopWait stops lifecycle, waits for tasks, then releases tele, history and hardware.
func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	ok := true
	select {
	case <-g.Alive.WaitChan():
	case <-time.After(timeout):
		ok = false
	}
	g.Shutdown()
	return ok
}

// Shutdown releases resources without touching Alive, call after tasks finished.
// Repeated calls do nothing.
func (g *Global) Shutdown() {
	g.shutdown.Do(g.release)
}

func (g *Global) release() {
	if g.Tele != nil {
		g.Tele.Close()
	}
	if g.History != nil {
		if err := g.History.Close(); err != nil {
			g.Log.Errorf("history close err=%v", err)
		}
		g.History = nil
	}
	if err := g.closeHardware(); err != nil {
		g.Log.Errorf("hardware close err=%v", err)
	}
}

func (g *Global) initReading() error {
	err := g.Reading.Init(g.Config.Persist.Root, true, g.Log)
	if err != nil {
		// corrupt last value must not prevent polling
		g.Log.Errorf("reading restore err=%v", err)
		return nil
	}
	if g.Reading.Valid() {
		g.Log.Debugf("reading restored celsius=%.2f time=%s", g.Reading.Get(), g.Reading.Time().Format(time.RFC3339))
	}
	return nil
}

func (g *Global) initHistory() error {
	cfg := &g.Config.History
	if !cfg.Enable {
		return nil
	}
	path := cfg.Path
	if path == "" {
		path = filepath.Join(g.Config.Persist.Root, "history.db")
	}
	if path != history.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errors.Annotate(err, "history dir")
		}
	}
	s, err := history.Open(path)
	if err != nil {
		return err
	}
	g.History = s
	return nil
}

// Power pins must be driven before any sensor read.
func (g *Global) initPower() error {
	_, err := g.PowerPins()
	return errors.Annotate(err, "initPower")
}
