package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"

	"github.com/juju/errors"
	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - Send delivers within network timeout or fails; success includes ack from broker
// - hide "connection" concept from upstream API or errors
// - application may start without network available
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, onVariable VariableCallback) error
	Send(topic string, payload []byte, retain bool) bool
	Close()
}

// VariableCallback is invoked for each remote variable request.
type VariableCallback func(name string)

func newTransport(kind string) (Transporter, error) {
	switch kind {
	case "", tele_config.TransportPaho:
		return &transportPaho{}, nil
	case tele_config.TransportGomqtt:
		return &transportGomqtt{}, nil
	default:
		return nil, errors.NotValidf("tele transport=%s", kind)
	}
}

func loadTLS(teleConfig tele_config.Config) (*tls.Config, error) {
	if teleConfig.TlsCaFile == "" {
		return nil, nil
	}
	tlsconf := new(tls.Config)
	tlsconf.RootCAs = x509.NewCertPool()
	cabytes, err := ioutil.ReadFile(teleConfig.TlsCaFile)
	if err != nil {
		return nil, errors.Annotate(err, "tls_ca_file")
	}
	if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
		return nil, errors.NotValidf("tls_ca_file=%s no certificates", teleConfig.TlsCaFile)
	}
	return tlsconf, nil
}
