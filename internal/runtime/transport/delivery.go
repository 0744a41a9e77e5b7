package transport

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	idspkg "github.com/drblury/gnssflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/gnssflow/internal/runtime/metadata"
)

// ToMessage converts a delivery into a Watermill message. Headers become
// metadata and AMQP properties are stored under the reserved keys, replacing
// any header of the same name.
func ToMessage(ctx context.Context, d amqp091.Delivery, queue string) *message.Message {
	md := metadatapkg.FromTable(d.Headers)
	md.Set(metadatapkg.KeyReplyTo, d.ReplyTo)
	md.Set(metadatapkg.KeyCorrelationID, d.CorrelationId)
	md.Set(metadatapkg.KeyMessageType, d.Type)
	md.Set(metadatapkg.KeyContentType, d.ContentType)
	md[metadatapkg.KeyQueue] = queue
	md[metadatapkg.KeyRedelivered] = strconv.FormatBool(d.Redelivered)

	msg := message.NewMessageWithContext(ctx, idspkg.OrNew(d.MessageId), d.Body)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg
}
