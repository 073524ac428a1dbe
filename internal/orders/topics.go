package orders

const (
	TopicOrderCreated   = "order.created"
	TopicOrderApproved  = "order.approved"
	TopicOrderCancelled = "order.cancelled"
	TopicOrderCompleted = "order.completed"
	TopicOrderPaid      = "order.paid"
	TopicStockReserved  = "order.stock.reserved"
	TopicStockRejected  = "order.stock.rejected"
)

// Partition key = order_id: semua event satu order masuk partisi yang sama, urutan terjaga.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// TopicFor maps a lifecycle event to the topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderApproved:
		return TopicOrderApproved
	case EventOrderCancelled:
		return TopicOrderCancelled
	case EventOrderCompleted:
		return TopicOrderCompleted
	case EventPaymentRecorded:
		return TopicOrderPaid
	case EventStockReserved:
		return TopicStockReserved
	case EventStockRejected:
		return TopicStockRejected
	default:
		return ""
	}
}
