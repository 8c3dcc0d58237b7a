// Package run is the daemon: power pins, startup event, control server, poll loop.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/w1temp/cmd/w1temp/subcmd"
	"github.com/temoto/w1temp/internal/control"
	"github.com/temoto/w1temp/internal/poll"
	"github.com/temoto/w1temp/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)

	sensor, err := g.Sensor()
	if err != nil {
		return errors.Annotate(err, "sensor init")
	}
	p := poll.New(ctx, sensor, os.Stdout)
	p.Setup(ctx)

	if err := control.Run(ctx); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		g.Log.Infof("signal=%v stopping", s)
		subcmd.SdNotify(daemon.SdNotifyStopping)
		g.Stop()
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("w1temp init complete, polling")
	p.Loop(ctx)
	return nil
}
