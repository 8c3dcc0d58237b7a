package tele

import (
	"context"

	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
)

type Noop struct{}

var _ Teler = Noop{} // compile-time interface test

func (Noop) Init(context.Context, *log2.Log, tele_config.Config) error { return nil }

func (Noop) Close() {}

func (Noop) Error(error) {}

func (Noop) Variable(string, VariableFunc) {}

func (Noop) Publish(string, string, Visibility) error { return nil }

func (Noop) Stat() Stat { return Stat{} }
