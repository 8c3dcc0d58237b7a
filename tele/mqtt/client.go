package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/w1temp/helpers/atomic_clock"
	"github.com/temoto/w1temp/log2"
)

const DefaultNetworkTimeout = 30 * time.Second
const DefaultReconnectDelay = 3 * time.Second

var ErrClientClosing = fmt.Errorf("MQTT client is closing")

type ClientOptions struct {
	BrokerURL      string
	TLS            *tls.Config
	ReconnectDelay time.Duration
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string
	Username       string
	Password       string
	Subscriptions  []packet.Subscription
	Will           *packet.Message
	Log            *log2.Log
	OnMessage      func(*packet.Message) error // called on separate goroutine
	OnReady        func(*Client) // connected and subscribed, called on each reconnect
}

// Client is minimal device-side MQTT 3.1.1 client.
// - NewClient() returns only configuration errors, network IO is done in background
// - Connect with clean session, subscribe once per connection
// - Unlimited reconnect attempts until Close()
// - QOS 0,1
// - Publish waits for connection, then for PUBACK within NetworkTimeout
type Client struct {
	sync.Mutex

	alive  *alive.Alive
	conpkt *packet.Connect
	dialer *transport.Dialer
	lastID uint32
	opt    ClientOptions

	current *session
	acks    sync.Map // packet.ID -> *future.Future
}

// One network connection lifetime.
type session struct {
	conn   transport.Conn
	sendmu sync.Mutex
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
	subID  packet.ID
	pingat *atomic_clock.Clock // last outgoing packet
	pongat *atomic_clock.Clock // last incoming packet
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.OnMessage == nil {
		return nil, errors.NotValidf("code error mqtt.ClientOptions.OnMessage=nil")
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReconnectDelay == 0 {
		opt.ReconnectDelay = DefaultReconnectDelay
	}
	if u, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "config error mqtt BrokerURL=%s", opt.BrokerURL)
	} else if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}

	conpkt := packet.NewConnect()
	conpkt.ClientID = opt.ClientID
	if conpkt.ClientID == "" {
		conpkt.ClientID = opt.Username
	}
	conpkt.KeepAlive = opt.KeepaliveSec
	conpkt.CleanSession = true
	conpkt.Username = opt.Username
	conpkt.Password = opt.Password
	conpkt.Will = opt.Will

	c := &Client{
		alive:  alive.NewAlive(),
		conpkt: conpkt,
		dialer: transport.NewDialer(transport.DialConfig{
			TLSConfig: opt.TLS,
			Timeout:   opt.NetworkTimeout,
		}),
		lastID: uint32(time.Now().UnixNano()),
		opt:    opt,
	}
	c.alive.Add(1)
	go c.worker()
	return c, nil
}

// Close sends DISCONNECT if connected, so broker does not publish will message.
func (c *Client) Close() error {
	var err error
	if s := c.session(); s != nil {
		err = s.send(c.opt.Log, packet.NewDisconnect())
		s.die(ErrClientClosing)
	}
	c.alive.Stop()
	c.alive.Wait()
	return err
}

// Connected reports whether current connection passed CONNACK and SUBACK.
func (c *Client) Connected() bool {
	s := c.session()
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (c *Client) Publish(ctx context.Context, msg *packet.Message) error {
	if msg.QOS >= packet.QOSExactlyOnce {
		return errors.NotSupportedf("mqtt QOS=%d", msg.QOS)
	}
	s, err := c.waitReady(ctx)
	if err != nil {
		return err
	}

	publish := packet.NewPublish()
	publish.Message = *msg
	var fu *future.Future
	if msg.QOS == packet.QOSAtLeastOnce {
		publish.ID = c.nextID()
		fu = future.New()
		c.acks.Store(publish.ID, fu)
		defer c.acks.Delete(publish.ID)
	}
	if err = s.send(c.opt.Log, publish); err != nil {
		return errors.Annotate(err, "send PUBLISH")
	}
	if fu == nil {
		return nil
	}

	select {
	case <-s.done:
		return errors.Annotate(s.err, "wait PUBACK")
	default:
	}
	switch err = fu.Wait(c.opt.NetworkTimeout); err {
	case nil:
		return nil

	case future.ErrCanceled:
		if e, ok := fu.Result().(error); ok {
			return e
		}
		return client.ErrClientNotConnected

	case future.ErrTimeout:
		err = errors.Timeoutf("PUBACK id=%d", publish.ID)
		s.die(err)
		return err

	default:
		return errors.Errorf("code error future.Wait()=%v", err)
	}
}

// WaitReady returns, in this order:
// - ErrClientClosing if client stopped with Close()
// - nil if connected and subscribed within context limit
// - context error if context canceled/expired before successful connection
func (c *Client) WaitReady(ctx context.Context) error {
	_, err := c.waitReady(ctx)
	return err
}

func (c *Client) waitReady(ctx context.Context) (*session, error) {
	donech := ctx.Done()
	stopch := c.alive.StopChan()
	for {
		var ready, lost <-chan struct{}
		s := c.session()
		if s != nil {
			ready, lost = s.ready, s.done
		}
		select {
		case <-lost:
			// wait for next connection
			select {
			case <-time.After(100 * time.Millisecond):
			case <-donech:
				return nil, ctx.Err()
			case <-stopch:
				return nil, ErrClientClosing
			}
		case <-ready:
			return s, nil
		case <-time.After(100 * time.Millisecond):
		case <-donech:
			return nil, ctx.Err()
		case <-stopch:
			return nil, ErrClientClosing
		}
	}
}

func (c *Client) session() *session {
	c.Lock()
	defer c.Unlock()
	return c.current
}

func (c *Client) setSession(s *session) {
	c.Lock()
	c.current = s
	c.Unlock()
}

func (c *Client) nextID() packet.ID {
	u32 := atomic.AddUint32(&c.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		return c.nextID()
	}
	return id
}

func (c *Client) worker() {
	defer c.alive.Done()
	stopch := c.alive.StopChan()
	for c.alive.IsRunning() {
		err := c.connect()
		if err != nil && c.alive.IsRunning() {
			c.opt.Log.Errorf("mqtt broker=%s err=%v", c.opt.BrokerURL, err)
		}
		c.setSession(nil)

		c.opt.Log.Debugf("mqtt wait ReconnectDelay=%v", c.opt.ReconnectDelay)
		select {
		case <-time.After(c.opt.ReconnectDelay):
		case <-stopch:
			return
		}
	}
}

// connect runs one session: dial, CONNECT, CONNACK, SUBSCRIBE, then read until connection dies.
func (c *Client) connect() error {
	conn, err := c.dialer.Dial(c.opt.BrokerURL)
	if err != nil {
		return errors.Annotatef(err, "dial")
	}
	s := &session{
		conn:   conn,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		pingat: atomic_clock.Now(),
		pongat: atomic_clock.Now(),
	}
	c.setSession(s)
	if !c.alive.IsRunning() {
		s.die(ErrClientClosing)
		return nil
	}

	if err = s.send(c.opt.Log, c.conpkt); err != nil {
		return err
	}
	conn.SetReadTimeout(c.opt.NetworkTimeout)
	pkt, err := conn.Receive()
	if err != nil {
		s.die(err)
		return errors.Annotate(err, "expect CONNACK")
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		s.die(client.ErrClientExpectedConnack)
		return errors.Annotatef(client.ErrClientExpectedConnack, "server error pkt=%s", PacketString(pkt))
	}
	if connack.ReturnCode != packet.ConnectionAccepted {
		s.die(client.ErrClientConnectionDenied)
		return errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String())
	}
	conn.SetReadTimeout(0)
	s.pongat.SetNow()
	c.opt.Log.Debugf("mqtt connected broker=%s", c.opt.BrokerURL)

	if len(c.opt.Subscriptions) == 0 {
		c.onReady(s)
	} else {
		sub := &packet.Subscribe{
			ID:            c.nextID(),
			Subscriptions: c.opt.Subscriptions,
		}
		s.subID = sub.ID
		if err = s.send(c.opt.Log, sub); err != nil {
			return err
		}
	}

	go c.pinger(s)
	return c.reader(s)
}

func (c *Client) onReady(s *session) {
	close(s.ready)
	if c.opt.OnReady != nil {
		go c.opt.OnReady(c)
	}
}

func (c *Client) reader(s *session) error {
	for {
		pkt, err := s.conn.Receive()
		select {
		case <-s.done:
			c.cancelAcks(s.err)
			return s.err
		default:
		}
		switch err {
		case nil: // success path

		case io.EOF:
			err = errors.Errorf("server closed connection")
			s.die(err)
			c.cancelAcks(err)
			return err

		default:
			err = errors.Annotate(err, "receive")
			s.die(err)
			c.cancelAcks(err)
			return err
		}
		s.pongat.SetNow()
		c.opt.Log.Debugf("mqtt received=%s", PacketString(pkt))

		switch pt := pkt.(type) {
		case *packet.Connack:
			err = errors.Errorf("server error duplicate CONNACK")

		case *packet.Pingresp:

		case *packet.Suback:
			err = c.onSuback(s, pt)

		case *packet.Puback:
			if x, ok := c.acks.Load(pt.ID); ok {
				x.(*future.Future).Complete(pt.ID)
			} else {
				c.opt.Log.Debugf("mqtt unexpected PUBACK id=%d", pt.ID)
			}

		case *packet.Publish:
			err = c.onPublish(s, pt)

		default:
			c.opt.Log.Debugf("mqtt unhandled packet %s", PacketString(pkt))
		}
		if err != nil {
			s.die(err)
			c.cancelAcks(err)
			return err
		}
	}
}

func (c *Client) onSuback(s *session, suback *packet.Suback) error {
	if suback.ID != s.subID {
		return errors.Annotatef(client.ErrFailedSubscription, "SUBACK.id=%d != SUBSCRIBE.id=%d", suback.ID, s.subID)
	}
	for _, code := range suback.ReturnCodes {
		if code == packet.QOSFailure {
			return client.ErrFailedSubscription
		}
	}
	c.onReady(s)
	return nil
}

func (c *Client) onPublish(s *session, publish *packet.Publish) error {
	if publish.Message.QOS > packet.QOSAtLeastOnce {
		return errors.NotSupportedf("incoming QOS=%d", publish.Message.QOS)
	}
	if publish.Message.QOS == packet.QOSAtLeastOnce {
		puback := packet.NewPuback()
		puback.ID = publish.ID
		if err := s.send(c.opt.Log, puback); err != nil {
			return err
		}
	}
	// OnMessage may Publish and wait for PUBACK, which only reader can receive
	if !c.alive.Add(1) {
		return nil
	}
	msg := publish.Message.Copy()
	go func() {
		defer c.alive.Done()
		if err := c.opt.OnMessage(msg); err != nil {
			c.opt.Log.Errorf("mqtt onMessage topic=%s err=%v", msg.Topic, err)
		}
	}()
	return nil
}

func (c *Client) cancelAcks(e error) {
	c.acks.Range(func(_, x interface{}) bool {
		x.(*future.Future).Cancel(e)
		return true
	})
}

// Sends PINGREQ when connection was idle for half of keepalive.
// [MQTT-3.1.2-24] control packets must arrive at most KeepaliveSec*1.5 apart.
func (c *Client) pinger(s *session) {
	if c.opt.KeepaliveSec == 0 {
		return
	}
	keepalive := time.Duration(c.opt.KeepaliveSec) * time.Second
	interval := keepalive / 2
	deadline := keepaliveAndHalf(c.opt.KeepaliveSec)
	tmr := time.NewTicker(interval / 2)
	defer tmr.Stop()
	for {
		select {
		case <-tmr.C:
		case <-s.done:
			return
		}
		now := atomic_clock.Now()
		if now.Sub(s.pongat) > deadline {
			s.die(client.ErrClientMissingPong)
			c.cancelAcks(client.ErrClientMissingPong)
			return
		}
		if now.Sub(s.pingat) >= interval {
			if err := s.send(c.opt.Log, packet.NewPingreq()); err != nil {
				return
			}
		}
	}
}

func keepaliveAndHalf(sec uint16) time.Duration {
	d := time.Duration(sec) * time.Second
	return d + d/2
}

func (s *session) die(e error) {
	s.once.Do(func() {
		if e == nil {
			e = ErrClientClosing
		}
		s.err = e
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) send(log *log2.Log, p packet.Generic) error {
	if s == nil {
		return client.ErrClientNotConnected
	}
	s.sendmu.Lock()
	err := s.conn.Send(p, false)
	s.sendmu.Unlock()
	if err != nil {
		err = errors.Annotatef(err, "send %s", p.Type().String())
		s.die(err)
		return err
	}
	s.pingat.SetNow()
	log.Debugf("mqtt sent %s", PacketString(p))
	return nil
}
