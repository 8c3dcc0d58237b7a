// Package power drives auxiliary "power" GPIO lines to fixed levels once at startup,
// e.g. sensor VDD and GND taken from spare pins.
package power

import (
	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

const consumer = "w1temp-power"

type Pins struct {
	chip  gpio.Chiper
	lines gpio.Lineser
	Low   uint32
	High  uint32
}

// Open drives line `low` to 0 and `high` to 1, levels are applied before return.
func Open(chip gpio.Chiper, low, high uint32) (*Pins, error) {
	if low == high {
		return nil, errors.NotValidf("power pins low=high=%d", low)
	}
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, low, high)
	if err != nil {
		return nil, errors.Annotatef(err, "power open lines low=%d high=%d", low, high)
	}
	p := &Pins{chip: chip, lines: lines, Low: low, High: high}
	p.lines.SetFunc(low)(0)
	p.lines.SetFunc(high)(1)
	if err = p.lines.Flush(); err != nil {
		_ = lines.Close()
		return nil, errors.Annotate(err, "power set levels")
	}
	return p, nil
}

// OpenChip opens gpio character device by name or path, e.g. "gpiochip0".
func OpenChip(name string) (gpio.Chiper, error) {
	chip, err := gpio.Open(name, consumer)
	return chip, errors.Annotatef(err, "gpio open chip=%s", name)
}

func (p *Pins) Close() error {
	if p == nil || p.lines == nil {
		return nil
	}
	return p.lines.Close()
}

// Output is single output line toggled at runtime.
type Output struct {
	lines gpio.Lineser
	set   gpio.LineSetFunc
	Line  uint32
}

func OpenOutput(chip gpio.Chiper, line uint32, label string) (*Output, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, label, line)
	if err != nil {
		return nil, errors.Annotatef(err, "output open line=%d", line)
	}
	return &Output{lines: lines, set: lines.SetFunc(line), Line: line}, nil
}

func (o *Output) Set(high bool) error {
	var v byte
	if high {
		v = 1
	}
	o.set(v)
	return errors.Annotatef(o.lines.Flush(), "output line=%d", o.Line)
}

func (o *Output) Close() error { return o.lines.Close() }
