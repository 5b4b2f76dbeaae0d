package notify

import (
	"context"

	"github.com/ariefcatur/farmgoods/internal/events"
	"go.uber.org/zap"
)

// KafkaMailer queues OTP mail on the notification topic; cmd/mailer delivers it.
type KafkaMailer struct {
	Events   events.Publisher
	Producer string
}

func (m *KafkaMailer) SendCode(ctx context.Context, email, name, code string) error {
	env, err := events.New(events.EventOTPIssued, m.Producer, email, events.OTPIssuedPayload{
		Email: email,
		Name:  name,
		Code:  code,
	})
	if err != nil {
		return err
	}
	return m.Events.Emit(ctx, events.TopicOTPIssued, events.PartitionKey(email), env)
}

// LogMailer writes codes to the debug log. Local runs only.
type LogMailer struct {
	Log *zap.Logger
}

func (m *LogMailer) SendCode(_ context.Context, email, name, code string) error {
	m.Log.Debug("otp_code_issued",
		zap.String("email", email),
		zap.String("name", name),
		zap.String("code", code))
	return nil
}
