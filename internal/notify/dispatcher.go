package notify

import (
	"context"

	"github.com/ariefcatur/farmgoods/internal/events"
	kafkax "github.com/ariefcatur/farmgoods/internal/kafka"
	"github.com/ariefcatur/farmgoods/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Dispatcher consumes OTPIssued events and delivers the mail. Delivery is at
// least once: the dedup mark is written only after a successful send.
type Dispatcher struct {
	Sender      Sender
	Redis       *redis.Client
	ServiceName string
	Log         *zap.Logger
}

// HandleOTPIssued is installed as the consumer handler.
func (d *Dispatcher) HandleOTPIssued(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		return err
	}
	if env.EventType != events.EventOTPIssued {
		return nil
	}

	dkey := redisx.Dedup(d.ServiceName, env.EventID)
	if d.Redis != nil {
		seen, err := redisx.Exists(ctx, d.Redis, dkey)
		if err != nil {
			// an unknown dedup state delivers
			d.log().Warn("otp_mail_dedup_check_failed", zap.String("event_id", env.EventID), zap.Error(err))
		} else if seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[events.OTPIssuedPayload](env.Payload)
	if err != nil {
		return err
	}
	subject, body := otpMail(p.Name, p.Code)
	if err := d.Sender.Send(ctx, p.Email, subject, body); err != nil {
		d.log().Error("otp_mail_send_failed", zap.String("event_id", env.EventID), zap.Error(err))
		return err
	}

	if d.Redis != nil {
		if _, err := redisx.MarkOnce(ctx, d.Redis, dkey, redisx.TTLDedup); err != nil {
			d.log().Warn("otp_mail_dedup_mark_failed", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
	d.log().Info("otp_mail_sent", zap.String("event_id", env.EventID))
	return nil
}

func (d *Dispatcher) log() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}
