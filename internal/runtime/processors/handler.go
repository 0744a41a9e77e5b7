package processors

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	idspkg "github.com/drblury/gnssflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/gnssflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/gnssflow/internal/runtime/metadata"
)

// BuildHandler converts the dispatcher into a Watermill handler. Each message
// is decoded, dispatched and processed; a processor result addressed to a
// reply destination becomes one outgoing message tagged with the request's
// correlation id and the destination under metadata.KeyDestination.
func BuildHandler(d *Dispatcher, logger loggingpkg.ServiceLogger) (message.HandlerFunc, error) {
	if d == nil {
		return nil, errspkg.ErrDispatcherRequired
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		env, err := DecodeEnvelope(msg.Payload, metadatapkg.FromWatermill(msg.Metadata))
		if err != nil {
			return nil, err
		}
		if env.CorrelationID != msg.Metadata.Get(metadatapkg.KeyCorrelationID) {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, env.CorrelationID)
			delete(msg.Metadata, metadatapkg.KeyCorrelationGenerated)
		}
		if canonical := Canonical(env.Type); canonical != "" {
			msg.Metadata.Set(metadatapkg.KeyMessageType, canonical)
		}

		proc, err := d.Dispatch(env)
		if err != nil {
			return nil, err
		}

		result, err := proc.Process(msg.Context())
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		if !env.WantsReply() {
			logger.Debug("Result has no reply destination", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"type":         proc.Type(),
				"id":           result.ID,
			})
			return nil, nil
		}

		reply, err := newReply(result, env)
		if err != nil {
			return nil, err
		}
		return []*message.Message{reply}, nil
	}, nil
}

// newReply encodes the result id as the JSON reply body.
func newReply(result *Result, env Envelope) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(result.ID)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	reply := message.NewMessage(idspkg.CreateULID(), payload)
	reply.Metadata = metadatapkg.ToWatermill(metadatapkg.Reply(env.ReplyTo, env.CorrelationID))
	return reply, nil
}
