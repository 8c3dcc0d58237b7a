package state

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
	"github.com/temoto/w1temp/hardware/ds18"
	"github.com/temoto/w1temp/hardware/power"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/log2"
	"periph.io/x/periph/conn/onewire"
	"periph.io/x/periph/conn/onewire/onewirereg"
	_ "periph.io/x/periph/experimental/host/netlink" // registers w1 netlink buses
	"periph.io/x/periph/host"
)

// OnewireDriver is periph driver which registers kernel w1 bus masters.
const OnewireDriver = "netlink-onewire"

type hardware struct {
	Onewire struct {
		once
		Bus    onewire.Bus // state-new testing mode sets Bus
		closer interface{ Close() error }
		Sensor *ds18.Sensor
	}
	Power struct {
		once
		Chip gpio.Chiper // state-new testing mode sets Chip
		Pins *power.Pins
	}
	Control struct {
		once
		Chip   gpio.Chiper
		Output *power.Output
	}
}

// Sensor opens 1-Wire bus and creates the only sensor session on first call.
func (g *Global) Sensor() (*ds18.Sensor, error) {
	x := &g.Hardware.Onewire // short alias
	_ = x.do(func() error {
		cfg := &g.Config.Hardware.Onewire
		if x.Bus == nil {
			st, err := host.Init()
			if err != nil {
				return errors.Annotate(err, "periph host init")
			}
			bus, err := onewirereg.Open(cfg.Bus)
			if err != nil {
				for _, f := range st.Failed {
					g.Log.Infof("periph driver %s", f)
				}
				return errors.Annotatef(err, "config: hardware.onewire.bus=%s driver=%s", cfg.Bus, OnewireDriver)
			}
			x.Bus = bus
			x.closer = bus
		}
		sensorLog := g.Log.Clone(log2.LInfo)
		x.Sensor = ds18.NewConfig(x.Bus, ds18.Config{
			Parasite:   g.Config.OnewireParasite(),
			Conversion: helpers.IntMillisecondDefault(cfg.ConversionMs, ds18.DefaultConversion),
			Log:        sensorLog,
		})
		g.Log.Debugf("onewire bus=%s parasite=%t conversion=%v", x.Bus, g.Config.OnewireParasite(), x.Sensor.Conversion())
		return nil
	})
	return x.Sensor, x.err
}

// PowerPins drives sensor power lines, nil without error when disabled in config.
func (g *Global) PowerPins() (*power.Pins, error) {
	x := &g.Hardware.Power
	_ = x.do(func() error {
		cfg := &g.Config.Hardware.Power
		if !cfg.Enable {
			g.Log.Debugf("hardware.power disabled")
			return nil
		}
		if x.Chip == nil {
			chip, err := power.OpenChip(cfg.PinChip)
			if err != nil {
				return err
			}
			x.Chip = chip
		}
		pins, err := power.Open(x.Chip, uint32(cfg.Low), uint32(cfg.High))
		if err != nil {
			return errors.Annotatef(err, "config: hardware.power=%#v", *cfg)
		}
		x.Pins = pins
		g.Log.Debugf("power pin low=%d high=%d", cfg.Low, cfg.High)
		return nil
	})
	return x.Pins, x.err
}

// ControlOutput opens remotely toggled line for control server.
func (g *Global) ControlOutput() (*power.Output, error) {
	x := &g.Hardware.Control
	_ = x.do(func() error {
		cfg := &g.Config.Hardware.Control
		if cfg.Pin <= 0 {
			return errors.NotValidf("config: hardware.control.pin=%d", cfg.Pin)
		}
		if x.Chip == nil {
			chip, err := power.OpenChip(cfg.PinChip)
			if err != nil {
				return err
			}
			x.Chip = chip
		}
		out, err := power.OpenOutput(x.Chip, uint32(cfg.Pin), "w1temp-control")
		if err != nil {
			return err
		}
		x.Output = out
		return nil
	})
	return x.Output, x.err
}

func (g *Global) closeHardware() error {
	errs := make([]error, 0, 3)
	hw := &g.Hardware
	if hw.Control.Output != nil {
		errs = append(errs, hw.Control.Output.Close())
		hw.Control.Output = nil
	}
	if hw.Power.Pins != nil {
		errs = append(errs, hw.Power.Pins.Close())
		hw.Power.Pins = nil
	}
	if hw.Onewire.closer != nil {
		errs = append(errs, hw.Onewire.closer.Close())
		hw.Onewire.closer = nil
	}
	return helpers.FoldErrors(errs)
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
