// Package control serves the auxiliary output toggle and current reading over HTTP.
//
//	GET /high       drive output high, reply "High"
//	GET /low        drive output low, reply "Low"
//	GET /v/<name>   current reading as text
package control

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/internal/state"
	"github.com/temoto/w1temp/log2"
	tele_api "github.com/temoto/w1temp/tele"
)

const shutdownTimeout = 5 * time.Second

// Output is satisfied by *power.Output.
type Output interface {
	Set(high bool) error
}

// Reader is satisfied by *state.Reading.
type Reader interface {
	Get() float64
	Valid() bool
}

type Server struct {
	log      *log2.Log
	mu       sync.Mutex // serializes output writes
	out      Output
	reading  Reader
	variable string
	srv      *http.Server
}

func NewServer(log *log2.Log, out Output, reading Reader, variable string) *Server {
	self := &Server{
		log:      log,
		out:      out,
		reading:  reading,
		variable: variable,
	}
	self.srv = &http.Server{
		Handler:      self.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return self
}

func (self *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /high", func(w http.ResponseWriter, r *http.Request) { self.handleSet(w, true) })
	mux.HandleFunc("GET /low", func(w http.ResponseWriter, r *http.Request) { self.handleSet(w, false) })
	mux.HandleFunc("GET /v/{name}", self.handleVariable)
	return self.withLogging(mux)
}

// Serve accepts on l until Shutdown, returns at once and closes l if Shutdown came first.
func (self *Server) Serve(l net.Listener) error {
	self.log.Infof("control listen=%s", l.Addr())
	err := self.srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Annotate(err, "control serve")
}

func (self *Server) Shutdown(ctx context.Context) error {
	return self.srv.Shutdown(ctx)
}

// Run starts control server from config and stops it on Global lifecycle stop.
// Does nothing when control.listen is empty.
func Run(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	addr := g.Config.Control.Listen
	if addr == "" {
		g.Log.Debugf("control disabled")
		return nil
	}
	out, err := g.ControlOutput()
	if err != nil {
		return errors.Annotate(err, "control output")
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "control listen=%s", addr)
	}
	self := NewServer(g.Log, out, &g.Reading, g.Config.Poll.Variable)

	if !g.Alive.Add(2) {
		_ = l.Close()
		return nil
	}
	go func() {
		defer g.Alive.Done()
		<-g.Alive.StopChan()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := self.Shutdown(sctx); err != nil {
			g.Log.Errorf("control shutdown err=%v", err)
		}
	}()
	go func() {
		defer g.Alive.Done()
		if err := self.Serve(l); err != nil {
			g.Error(err)
		}
	}()
	return nil
}

func (self *Server) handleSet(w http.ResponseWriter, high bool) {
	reply := "Low"
	if high {
		reply = "High"
	}
	err := helpers.WithLockError(&self.mu, func() error { return self.out.Set(high) })
	if err != nil {
		self.log.Errorf("control set=%s err=%v", reply, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	self.writeText(w, reply)
}

func (self *Server) handleVariable(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("name") != self.variable {
		http.NotFound(w, r)
		return
	}
	if !self.reading.Valid() {
		http.Error(w, "no reading yet", http.StatusServiceUnavailable)
		return
	}
	self.writeText(w, tele_api.FormatVariable(self.reading.Get()))
}

func (self *Server) writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := helpers.WriteString(w, s); err != nil {
		self.log.Debugf("control write err=%v", err)
	}
}

func (self *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		self.log.Debugf("control request method=%s path=%s duration=%v", r.Method, r.URL.Path, time.Since(start))
	})
}
