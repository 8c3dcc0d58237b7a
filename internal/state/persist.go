package state

import (
	"encoding"
	"encoding/binary"
	"io"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/w1temp/helpers/atomic_clock"
	"github.com/temoto/w1temp/helpers/atomic_float"
	"github.com/temoto/w1temp/log2"
)

type Stater interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// Binds Stater to persistent storage.
type Persist struct {
	sync.Mutex
	log     *log2.Log
	tag     string
	target  Stater
	storage storage
}

func (p *Persist) Init(tag string, target Stater, root string, enabled bool, log *log2.Log) error {
	p.tag = tag
	p.log = log
	if !enabled {
		p.log.Debugf("persist %s disabled", p.tag)
		return nil
	}
	if root == "" {
		return errors.Errorf("persist %s enabled but root=empty", p.tag)
	}
	if target == nil {
		return errors.Errorf("code error persist %s target=nil", p.tag)
	}
	p.target = target
	p.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, tag),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return nil
}

func (p *Persist) Load() error {
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	tbegin := time.Now()
	b, err := p.storage.Read()
	p.log.Debugf("persist %s storage.read duration=%v", p.tag, time.Since(tbegin))
	if b != nil {
		if err != nil {
			p.log.Errorf("persist %s ignore non-critical storage err=%v", p.tag, err)
		}
		err = p.target.UnmarshalBinary(b)
	}
	return errors.Annotatef(err, "persist %s Load", p.tag)
}

func (p *Persist) Store() error {
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	b, err := p.target.MarshalBinary()
	if err == nil {
		tbegin := time.Now()
		_, err = p.storage.Write(b)
		p.log.Debugf("persist %s storage.write duration=%v", p.tag, time.Since(tbegin))
	}
	return errors.Annotatef(err, "persist %s Store", p.tag)
}

const readingBinaryLen = 16

// Reading is the last successful temperature, shared between poller and readers
// (remote variable, control server, console).
type Reading struct {
	celsius atomic_float.F64
	at      atomic_clock.Clock
	persist Persist
}

var _ Stater = &Reading{} // compile-time interface test

func (r *Reading) Init(root string, enabled bool, log *log2.Log) error {
	if err := r.persist.Init("reading", r, root, enabled, log); err != nil {
		return err
	}
	return r.persist.Load()
}

// Get returns last Celsius, 0 if nothing was ever stored.
func (r *Reading) Get() float64 { return r.celsius.Load() }

// Time of last Store, zero if never.
func (r *Reading) Time() time.Time { return r.at.Time() }

func (r *Reading) Valid() bool { return !r.at.IsZero() }

func (r *Reading) Store(c float64) error {
	r.celsius.Store(c)
	r.at.SetNow()
	return r.persist.Store()
}

func (r *Reading) MarshalBinary() ([]byte, error) {
	b := make([]byte, readingBinaryLen)
	binary.BigEndian.PutUint64(b[0:8], math.Float64bits(r.celsius.Load()))
	binary.BigEndian.PutUint64(b[8:16], uint64(r.at.UnixNano()))
	return b, nil
}

func (r *Reading) UnmarshalBinary(b []byte) error {
	if len(b) != readingBinaryLen {
		return errors.NotValidf("reading length=%d", len(b))
	}
	r.celsius.Store(math.Float64frombits(binary.BigEndian.Uint64(b[0:8])))
	r.at.Set(int64(binary.BigEndian.Uint64(b[8:16])))
	return nil
}
