package tele

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
)

type brokerSeen struct {
	online     bool
	requestAck bool
	reply      *packet.Message
	offline    bool
	disconnect bool
}

// fakeBroker accepts one connection, acks everything and requests variable after client announced online.
func fakeBroker(t testing.TB, ln net.Listener, variable string, replied chan<- struct{}) <-chan brokerSeen {
	done := make(chan brokerSeen, 1)
	go func() {
		var seen brokerSeen
		defer func() { done <- seen }()
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("accept err=%v", err)
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(testTimeout))
		b := transport.NewNetConn(conn)
		send := func(p packet.Generic) {
			if err := b.Send(p, false); err != nil {
				t.Errorf("broker send err=%v", err)
			}
		}
		for {
			pkt, err := b.Receive()
			if err != nil {
				t.Errorf("broker receive err=%v", err)
				return
			}
			switch p := pkt.(type) {
			case *packet.Connect:
				connack := packet.NewConnack()
				connack.ReturnCode = packet.ConnectionAccepted
				send(connack)

			case *packet.Subscribe:
				suback := packet.NewSuback()
				suback.ID = p.ID
				for _, s := range p.Subscriptions {
					suback.ReturnCodes = append(suback.ReturnCodes, s.QOS)
				}
				send(suback)

			case *packet.Publish:
				if p.Message.QOS == packet.QOSAtLeastOnce {
					puback := packet.NewPuback()
					puback.ID = p.ID
					send(puback)
				}
				switch {
				case p.Message.Topic == "dev1/c" && string(p.Message.Payload) == "1":
					seen.online = true
					request := packet.NewPublish()
					request.ID = 7
					request.Message = packet.Message{Topic: "dev1/r/v", Payload: []byte(variable), QOS: packet.QOSAtLeastOnce}
					send(request)
				case p.Message.Topic == "dev1/c" && string(p.Message.Payload) == "0":
					seen.offline = true
				case p.Message.Topic == "dev1/w/v/"+variable:
					seen.reply = p.Message.Copy()
					replied <- struct{}{}
				}

			case *packet.Puback:
				if p.ID == 7 {
					seen.requestAck = true
				}

			case *packet.Disconnect:
				seen.disconnect = true
				return
			}
		}
	}()
	return done
}

func TestGomqttVariable(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	replied := make(chan struct{}, 1)
	done := fakeBroker(t, ln, "temp", replied)

	tt := NewWithTransporter(&transportGomqtt{}).(*tele)
	config := tele_config.Config{
		Enabled:           true,
		DeviceId:          "1",
		MqttBroker:        "tcp://" + ln.Addr().String(),
		NetworkTimeoutSec: 3,
	}
	require.NoError(t, tt.Init(context.Background(), log2.NewTest(t, log2.LDebug), config))
	tt.Variable("temp", func() float64 { return 21.5 })

	select {
	case <-replied:
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for variable reply")
	}
	tt.Close()

	seen := <-done
	assert.True(t, seen.online)
	assert.True(t, seen.requestAck, "variable request must be acked")
	require.NotNil(t, seen.reply)
	assert.Equal(t, "21.500000", string(seen.reply.Payload))
	assert.True(t, seen.reply.Retain)
	assert.True(t, seen.offline, "offline state must be published before disconnect")
	assert.True(t, seen.disconnect)
	assert.Equal(t, uint32(1), tt.Stat().VariableRequests)
}
