package metadata

import (
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// FromTable flattens AMQP headers into metadata. Non-string values are
// rendered with fmt; nested tables and arrays are skipped.
func FromTable(headers amqp091.Table) Metadata {
	md := make(Metadata, len(headers))
	for k, v := range headers {
		switch value := v.(type) {
		case string:
			md[k] = value
		case []byte:
			md[k] = string(value)
		case time.Time:
			md[k] = value.UTC().Format(time.RFC3339Nano)
		case nil, amqp091.Table, []any:
			continue
		default:
			md[k] = fmt.Sprint(value)
		}
	}
	return md
}
