package metadata

// Reserved metadata keys. Broker headers using these names are overwritten by
// the values taken from the delivery itself.
const (
	// KeyCorrelationID pairs a reply with the request that caused it.
	KeyCorrelationID = "correlation_id"

	// KeyCorrelationGenerated is "true" when the correlation id was minted
	// locally rather than supplied by the requester.
	KeyCorrelationGenerated = "gnssflow_correlation_generated"

	// KeyReplyTo names the queue the requester listens on.
	KeyReplyTo = "reply_to"

	// KeyDestination names the queue an outgoing message must be published to.
	KeyDestination = "gnssflow_destination"

	// KeyQueue records the queue a delivery was consumed from.
	KeyQueue = "gnssflow_queue"

	// KeyMessageType carries the AMQP type property.
	KeyMessageType = "gnssflow_message_type"

	// KeyRedelivered is "true" when the broker flagged the delivery as redelivered.
	KeyRedelivered = "gnssflow_redelivered"

	// KeyContentType carries the AMQP content type property.
	KeyContentType = "content_type"
)
