package power

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	gpio "github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	levels := map[uint32]byte{}
	setter := func(line uint32) gpio.LineSetFunc {
		return func(v byte) { levels[line] = v }
	}
	lines := new(gpio_mock.MockLines)
	lines.On("SetFunc", uint32(3)).Return(setter(3))
	lines.On("SetFunc", uint32(5)).Return(setter(5))
	lines.On("Flush").Return(nil).Run(func(mock.Arguments) {
		// levels must be set before flush
		assert.Equal(t, map[uint32]byte{3: 0, 5: 1}, levels)
	})
	lines.On("Close").Return(nil)
	chip := new(gpio_mock.MockChip)
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, uint32(3), uint32(5)).Return(lines, nil)

	p, err := Open(chip, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), p.Low)
	assert.Equal(t, uint32(5), p.High)
	require.NoError(t, p.Close())
	chip.AssertExpectations(t)
	lines.AssertExpectations(t)
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := Open(new(gpio_mock.MockChip), 4, 4)
	assert.Error(t, err)

	chip := new(gpio_mock.MockChip)
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, uint32(1), uint32(2)).Return((*gpio_mock.MockLines)(nil), fmt.Errorf("busy"))
	_, err = Open(chip, 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")

	lines := new(gpio_mock.MockLines)
	lines.On("SetFunc", mock.Anything).Return(gpio.LineSetFunc(func(byte) {}))
	lines.On("Flush").Return(fmt.Errorf("EIO"))
	lines.On("Close").Return(nil)
	chip = new(gpio_mock.MockChip)
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, uint32(1), uint32(2)).Return(lines, nil)
	_, err = Open(chip, 1, 2)
	require.Error(t, err)
	lines.AssertCalled(t, "Close")
}

func TestOutput(t *testing.T) {
	t.Parallel()

	var level byte = 0xff
	lines := new(gpio_mock.MockLines)
	lines.On("SetFunc", uint32(23)).Return(gpio.LineSetFunc(func(v byte) { level = v }))
	lines.On("Flush").Return(nil)
	chip := new(gpio_mock.MockChip)
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, "test", uint32(23)).Return(lines, nil)

	o, err := OpenOutput(chip, 23, "test")
	require.NoError(t, err)
	require.NoError(t, o.Set(true))
	assert.Equal(t, byte(1), level)
	require.NoError(t, o.Set(false))
	assert.Equal(t, byte(0), level)
}
