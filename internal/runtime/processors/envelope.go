package processors

import (
	"strings"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/gnssflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/gnssflow/internal/runtime/metadata"
)

// Envelope is one decoded delivery: the declared type, the payload fields and
// the optional reply routing.
type Envelope struct {
	Type          string
	Payload       map[string]any
	ReplyTo       string
	CorrelationID string
}

// WantsReply reports whether the sender is waiting for a correlated answer.
func (e Envelope) WantsReply() bool {
	return e.ReplyTo != ""
}

// DecodeEnvelope parses a delivery body. Both the flat form
// {"type": ..., <fields>} and the nested form {"type": ..., "payload": {...}}
// are accepted; in the nested form top level fields fill gaps in the payload.
// Reply routing taken from the broker properties wins over body keys, except
// for a locally minted correlation id, which yields to one in the body.
func DecodeEnvelope(body []byte, md metadatapkg.Metadata) (Envelope, error) {
	obj, err := jsoncodec.DecodeObject(body)
	if err != nil {
		return Envelope{}, &errspkg.DecodeError{Err: err}
	}

	env := Envelope{
		Type:          firstString(obj, "type", "message_type"),
		ReplyTo:       md.ReplyTo(),
		CorrelationID: md.RequesterCorrelationID(),
	}
	if env.Type == "" {
		env.Type = strings.TrimSpace(md[metadatapkg.KeyMessageType])
	}
	if env.ReplyTo == "" {
		env.ReplyTo = firstString(obj, "reply_to")
	}
	if env.CorrelationID == "" {
		env.CorrelationID = firstString(obj, "correlation_id")
	}
	if env.CorrelationID == "" {
		env.CorrelationID = md.CorrelationID()
	}

	env.Payload = obj
	if nested, ok := obj["payload"].(map[string]any); ok {
		for k, v := range obj {
			if k == "payload" {
				continue
			}
			if _, exists := nested[k]; !exists {
				nested[k] = v
			}
		}
		env.Payload = nested
	} else if _, present := obj["payload"]; present {
		return Envelope{}, &errspkg.DecodeError{Err: errNestedPayload}
	}

	return env, nil
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
