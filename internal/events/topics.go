package events

const (
	TopicOrderPlaced        = "order.placed"
	TopicPaymentSettled     = "order.payment.settled"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOTPIssued          = "notification.otp"
)

// Partition key = order_id, so every event of one order keeps its ordering.
func PartitionKey(id string) []byte { return []byte(id) }
