// Package history prints recent readings: `w1temp history [N]`.
package history

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/w1temp/cmd/w1temp/subcmd"
	"github.com/temoto/w1temp/internal/history"
	"github.com/temoto/w1temp/internal/state"
)

const DefaultCount = 20

var Mod = subcmd.Mod{Name: "history", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	config.Tele.Enabled = false
	config.Hardware.Power.Enable = false
	config.History.Enable = true
	g.MustInit(ctx, config)

	n := DefaultCount
	if args := subcmd.Args(ctx); len(args) != 0 {
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Annotatef(err, "history count=%s", args[0])
		}
		n = i
	}
	return Print(ctx, os.Stdout, g.History, n)
}

// Print writes up to n newest records, one per line.
func Print(ctx context.Context, w io.Writer, s *history.Store, n int) error {
	if s == nil {
		return errors.NotFoundf("history disabled")
	}
	rs, err := s.Recent(ctx, n)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if _, err := fmt.Fprintf(w, "%s %s %.2f C\n", r.Time.Format(time.RFC3339), r.ROM, r.Celsius); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
