package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/temoto/w1temp/cmd/w1temp/console"
	cmd_history "github.com/temoto/w1temp/cmd/w1temp/history"
	"github.com/temoto/w1temp/cmd/w1temp/run"
	"github.com/temoto/w1temp/cmd/w1temp/subcmd"
	"github.com/temoto/w1temp/helpers/cli"
	"github.com/temoto/w1temp/internal/state"
	state_new "github.com/temoto/w1temp/internal/state/new"
	tele "github.com/temoto/w1temp/internal/tele"
	"github.com/temoto/w1temp/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	cmd_history.Mod,
	{Name: "version", Main: versionMain},
}

func main() {
	flagset := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := flagset.String("config", "w1temp.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: %s [options] command\nOptions:\n", os.Args[0])
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "Commands: run (default) console history version\n")
	}
	_ = flagset.Parse(os.Args[1:])

	command := flagset.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Errorf("%v", err)
		flagset.Usage()
		os.Exit(1)
	}

	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if cli.IsTerminal() {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Debugf("w1temp version=%s starting %s", BuildVersion, mod.Name)

	ctx, g := state_new.NewContext(log, tele.New())
	g.BuildVersion = BuildVersion

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	ctx = context.WithValue(ctx, subcmd.ArgsContextKey, flagset.Args()[minInt(1, flagset.NArg()):])
	if err := mod.Main(ctx, config); err != nil {
		g.Fatal(err)
	}
	g.StopWait(subcmd.StopTimeout)
}

func versionMain(ctx context.Context, config *state.Config) error {
	fmt.Fprintf(os.Stdout, "w1temp %s\n", BuildVersion)
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
