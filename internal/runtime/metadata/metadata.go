package metadata

// Metadata holds the string headers carried by a delivery or a reply.
type Metadata map[string]string

// New builds Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Set stores value under key, or removes key when value is empty.
func (m Metadata) Set(key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}

// ReplyTo returns the queue the requester listens on, if any.
func (m Metadata) ReplyTo() string { return m[KeyReplyTo] }

// CorrelationID returns the id pairing a request with its reply.
func (m Metadata) CorrelationID() string { return m[KeyCorrelationID] }

// RequesterCorrelationID returns the correlation id unless it was minted
// locally, in which case the requester never saw it and it is empty.
func (m Metadata) RequesterCorrelationID() string {
	if m[KeyCorrelationGenerated] == "true" {
		return ""
	}
	return m[KeyCorrelationID]
}

// Reply returns the metadata of a JSON reply addressed to dest. An empty
// correlationID is left out.
func Reply(dest, correlationID string) Metadata {
	md := New(
		KeyDestination, dest,
		KeyContentType, "application/json",
	)
	md.Set(KeyCorrelationID, correlationID)
	return md
}
