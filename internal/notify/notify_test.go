package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/farmgoods/internal/events"
	kafkax "github.com/ariefcatur/farmgoods/internal/kafka"
	"github.com/ariefcatur/farmgoods/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct{ to, subject, body string }

type fakeSender struct {
	sent []captured
	fail error
}

func (s *fakeSender) Send(_ context.Context, to, subject, body string) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, captured{to, subject, body})
	return nil
}

type capturePublisher struct {
	topic string
	env   events.Envelope
}

func (p *capturePublisher) Emit(_ context.Context, topic string, _ []byte, env events.Envelope) error {
	p.topic, p.env = topic, env
	return nil
}

func otpMessage(t *testing.T) (kafkago.Message, events.Envelope) {
	t.Helper()
	pub := &capturePublisher{}
	m := &KafkaMailer{Events: pub, Producer: "test"}
	require.NoError(t, m.SendCode(context.Background(), "ani@farm.id", "Ani", "424242"))
	assert.Equal(t, events.TopicOTPIssued, pub.topic)

	b, err := kafkax.Marshal(pub.env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}, pub.env
}

func TestDispatcher_DeliversOncePerEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	sender := &fakeSender{}
	d := &Dispatcher{Sender: sender, Redis: rdb, ServiceName: "mailer"}
	msg, env := otpMessage(t)

	require.NoError(t, d.HandleOTPIssued(context.Background(), msg))
	require.NoError(t, d.HandleOTPIssued(context.Background(), msg))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ani@farm.id", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].body, "424242")
	assert.Contains(t, sender.sent[0].body, "Hello Ani")
	assert.True(t, mr.Exists(redisx.Dedup("mailer", env.EventID)))
}

func TestDispatcher_FailedSendIsRetried(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	sender := &fakeSender{fail: errors.New("421 try later")}
	d := &Dispatcher{Sender: sender, Redis: rdb, ServiceName: "mailer"}
	msg, _ := otpMessage(t)

	require.Error(t, d.HandleOTPIssued(context.Background(), msg))
	sender.fail = nil
	require.NoError(t, d.HandleOTPIssued(context.Background(), msg))
	assert.Len(t, sender.sent, 1)
}

func TestDispatcher_RedisDownStillDelivers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	sender := &fakeSender{}
	d := &Dispatcher{Sender: sender, Redis: rdb, ServiceName: "mailer"}
	msg, _ := otpMessage(t)

	require.NoError(t, d.HandleOTPIssued(context.Background(), msg))
	assert.Len(t, sender.sent, 1)
}

func TestDispatcher_MarkKeepsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	d := &Dispatcher{Sender: &fakeSender{}, Redis: rdb, ServiceName: "mailer"}
	msg, env := otpMessage(t)
	require.NoError(t, d.HandleOTPIssued(context.Background(), msg))
	assert.Equal(t, redisx.TTLDedup, mr.TTL(redisx.Dedup("mailer", env.EventID)))
}

func TestDispatcher_IgnoresOtherEvents(t *testing.T) {
	sender := &fakeSender{}
	d := &Dispatcher{Sender: sender}
	env, err := events.New(events.EventOrderPlaced, "test", "o-1", events.OrderPlacedPayload{OrderID: "o-1"})
	require.NoError(t, err)
	b, err := kafkax.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, d.HandleOTPIssued(context.Background(), kafkago.Message{Value: b}))
	assert.Empty(t, sender.sent)

	assert.Error(t, d.HandleOTPIssued(context.Background(), kafkago.Message{Value: []byte("{")}))
}

func TestNewMessage(t *testing.T) {
	m, err := newMessage("noreply@farm.id", "ani@farm.id", "Code", "line1\nline2")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Subject: Code")
	assert.Contains(t, out, "ani@farm.id")
	assert.Contains(t, out, "line1")

	_, err = newMessage("noreply@farm.id", "not an address", "Code", "x")
	assert.Error(t, err)
}

// fakeSMTP speaks just enough SMTP to accept one message per DATA.
func fakeSMTP(t *testing.T) (addr string, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, out)
		}
	}()
	return ln.Addr().String(), out
}

func serveSMTP(conn net.Conn, out chan<- string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 fake")
		case cmd == "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				data.WriteString(l)
			}
			out <- data.String()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

func TestSMTPSender_Delivers(t *testing.T) {
	addr, received := fakeSMTP(t)
	s := &SMTPSender{Addr: addr, From: "noreply@farm.id", Timeout: 2 * time.Second}

	require.NoError(t, s.Send(context.Background(), "ani@farm.id", "Code", "Your code is 424242"))
	select {
	case data := <-received:
		assert.Contains(t, data, "Subject: Code")
		assert.Contains(t, data, "424242")
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSMTPSender_SilentServerIsBounded(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var mu sync.Mutex
	var held []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			_ = c.Close()
		}
	})

	baseline := runtime.NumGoroutine()

	byTimeout := &SMTPSender{Addr: ln.Addr().String(), From: "noreply@farm.id", Timeout: 100 * time.Millisecond}
	start := time.Now()
	assert.Error(t, byTimeout.Send(context.Background(), "ani@farm.id", "Code", "x"))
	assert.Less(t, time.Since(start), 3*time.Second)

	byCtx := &SMTPSender{Addr: ln.Addr().String(), From: "noreply@farm.id"}
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		start = time.Now()
		assert.Error(t, byCtx.Send(ctx, "ani@farm.id", "Code", "x"))
		assert.Less(t, time.Since(start), 3*time.Second)
		cancel()
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline },
		2*time.Second, 20*time.Millisecond)
}
