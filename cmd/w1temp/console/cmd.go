// Package console is interactive sensor debugging prompt.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	cmd_history "github.com/temoto/w1temp/cmd/w1temp/history"
	"github.com/temoto/w1temp/cmd/w1temp/subcmd"
	"github.com/temoto/w1temp/hardware/ds18"
	"github.com/temoto/w1temp/helpers/cli"
	"github.com/temoto/w1temp/internal/poll"
	"github.com/temoto/w1temp/internal/state"
	"github.com/temoto/w1temp/log2"
)

const modName = "console"

var Mod = subcmd.Mod{Name: modName, Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	sensor, err := g.Sensor()
	if err != nil {
		return errors.Annotate(err, "sensor init")
	}
	c := newConsole(ctx, sensor, os.Stdout)
	c.poller.Setup(ctx)
	g.Log.Debugf("console init complete")

	cli.MainLoop("w1temp", c.exec, complete, func() { g.StopWait(subcmd.StopTimeout) })
	return nil
}

type console struct {
	ctx    context.Context
	g      *state.Global
	out    io.Writer
	poller *poll.Poller
	sensor *ds18.Sensor
}

func newConsole(ctx context.Context, sensor *ds18.Sensor, out io.Writer) *console {
	return &console{
		ctx:    ctx,
		g:      state.GetGlobal(ctx),
		out:    out,
		poller: poll.New(ctx, sensor, out),
		sensor: sensor,
	}
}

var suggests = []prompt.Suggest{
	{Text: "read", Description: "poll next sensor once"},
	{Text: "scan", Description: "search bus, list addresses"},
	{Text: "reset", Description: "restart enumeration"},
	{Text: "temp", Description: "last reading"},
	{Text: "history", Description: "newest records"},
	{Text: "stat", Description: "cloud delivery counters"},
	{Text: "log=yes"},
	{Text: "log=no"},
	{Text: "loop="},
	{Text: "help"},
}

func complete(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

func (self *console) exec(line string) {
	as, loopn, err := parseLine(line)
	if err != nil {
		self.g.Log.Errorf(errors.ErrorStack(err))
		return
	}
	ctx := self.ctx
	tbegin := time.Now()
	for i := 0; i < loopn; i++ {
		for _, a := range as {
			if err := self.do(ctx, a); err != nil {
				self.g.Log.Errorf(errors.ErrorStack(err))
				return
			}
		}
	}
	if len(as) != 0 {
		self.g.Log.Debugf("duration=%v", time.Since(tbegin))
	}
}

func (self *console) do(ctx context.Context, a action) error {
	switch a.kind {
	case actionHelp:
		_, err := io.WriteString(self.out, usage)
		return err
	case actionRead:
		pause := self.poller.Step(ctx)
		self.g.Log.Debugf("read pause=%v", pause)
	case actionReadAddress:
		if !self.sensor.ReadAddress(a.addr) {
			fmt.Fprintf(self.out, "%s\n", poll.Diagnostics(self.sensor))
			return errors.Errorf("read rom=%s failed", a.addr)
		}
		fmt.Fprintf(self.out, "%s %s %.2f C %.2f F\n", a.addr, self.sensor.Type(), self.sensor.Celsius(), self.sensor.Fahrenheit())
	case actionScan:
		addrs, err := self.sensor.Search()
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fmt.Fprintf(self.out, "%s %s\n", a, ds18.TypeFromFamily(a.Family()))
		}
		fmt.Fprintf(self.out, "found=%d\n", len(addrs))
	case actionReset:
		self.sensor.ResetSearch()
	case actionTemp:
		r := &self.g.Reading
		if !r.Valid() {
			fmt.Fprintf(self.out, "no reading\n")
			return nil
		}
		c := r.Get()
		fmt.Fprintf(self.out, "%.2f C %.2f F at %s\n", c, ds18.CelsiusToFahrenheit(c), r.Time().Format(time.RFC3339))
	case actionHistory:
		return cmd_history.Print(ctx, self.out, self.g.History, a.n)
	case actionStat:
		fmt.Fprintf(self.out, "%+v\n", self.g.Tele.Stat())
	case actionSleep:
		time.Sleep(time.Duration(a.n) * time.Millisecond)
	case actionLog:
		if a.flag {
			self.g.Log.SetLevel(log2.LDebug)
		} else {
			self.g.Log.SetLevel(log2.LInfo)
		}
	default:
		return errors.Errorf("code error action=%#v", a)
	}
	return nil
}
