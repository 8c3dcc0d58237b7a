package state

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Hardware struct {
		Onewire struct {
			Bus          string `hcl:"bus"` // empty = first registered bus
			Parasite     *bool  `hcl:"parasite"` // default true
			ConversionMs int    `hcl:"conversion_ms"`
		} `hcl:"onewire"`
		Power struct {
			Enable  bool   `hcl:"enable"`
			PinChip string `hcl:"pin_chip"`
			Low     int    `hcl:"low"`
			High    int    `hcl:"high"`
		} `hcl:"power"`
		Control struct {
			PinChip string `hcl:"pin_chip"`
			Pin     int    `hcl:"pin"`
		} `hcl:"control"`
	}

	Control struct {
		Listen string `hcl:"listen"`
	}
	History struct {
		Enable bool   `hcl:"enable"`
		Path   string `hcl:"path"`
		Keep   int    `hcl:"keep"`
	}
	Persist struct {
		Root string `hcl:"root"`
	}
	Poll struct {
		SuccessDelaySec int    `hcl:"success_delay_sec"`
		IdleDelayMs     int    `hcl:"idle_delay_ms"`
		Variable        string `hcl:"variable"`
		Event           string `hcl:"event"`
		StartEvent      string `hcl:"start_event"`
		StartMessage    string `hcl:"start_message"`
	}
	Tele tele_config.Config

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

const (
	DefaultPinChip      = "/dev/gpiochip0"
	DefaultVariable     = "temp"
	DefaultEvent        = "temperature"
	DefaultStartEvent   = "status"
	DefaultStartMessage = "Starting temp sensor"
	DefaultHistoryKeep  = 10000
)

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// applyDefaults fills zero values, called from ReadConfig.
func (c *Config) applyDefaults() {
	if c.Hardware.Power.PinChip == "" {
		c.Hardware.Power.PinChip = DefaultPinChip
	}
	if c.Hardware.Control.PinChip == "" {
		c.Hardware.Control.PinChip = DefaultPinChip
	}
	if c.Poll.Variable == "" {
		c.Poll.Variable = DefaultVariable
	}
	if c.Poll.Event == "" {
		c.Poll.Event = DefaultEvent
	}
	if c.Poll.StartEvent == "" {
		c.Poll.StartEvent = DefaultStartEvent
	}
	if c.Poll.StartMessage == "" {
		c.Poll.StartMessage = DefaultStartMessage
	}
	if c.History.Keep == 0 {
		c.History.Keep = DefaultHistoryKeep
	}
}

// OnewireParasite is parasite power mode, enabled unless config says otherwise.
func (c *Config) OnewireParasite() bool {
	p := c.Hardware.Onewire.Parasite
	return p == nil || *p
}

func (c *Config) validate() error {
	errs := make([]error, 0, 4)
	hw := &c.Hardware
	if hw.Power.Enable {
		if hw.Power.Low < 0 || hw.Power.High < 0 {
			errs = append(errs, errors.NotValidf("hardware.power pins low=%d high=%d", hw.Power.Low, hw.Power.High))
		} else if hw.Power.Low == hw.Power.High {
			errs = append(errs, errors.NotValidf("hardware.power low=high=%d", hw.Power.Low))
		}
	}
	if hw.Onewire.ConversionMs < 0 {
		errs = append(errs, errors.NotValidf("hardware.onewire.conversion_ms=%d", hw.Onewire.ConversionMs))
	}
	if c.Control.Listen != "" && hw.Control.Pin <= 0 {
		errs = append(errs, errors.NotValidf("control.listen requires hardware.control.pin"))
	}
	if c.Poll.SuccessDelaySec < 0 || c.Poll.IdleDelayMs < 0 {
		errs = append(errs, errors.NotValidf("poll delays must be >= 0"))
	}
	return helpers.FoldErrors(errs)
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	c.applyDefaults()
	return c, c.validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
