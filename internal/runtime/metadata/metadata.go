// Package metadata converts exchange headers and bodies to the string
// metadata and byte payloads carried by watermill messages.
package metadata

import "strings"

// Reserved keys carry exchange bookkeeping across a transport. They never
// surface as exchange headers on the consuming side.
const (
	KeyPrefix        = "flowscope_"
	KeyExchangeID    = KeyPrefix + "exchange_id"
	KeyBodyType      = KeyPrefix + "body_type"
	KeyRouteID       = KeyPrefix + "route_id"
	KeyFromEndpoint  = KeyPrefix + "from_endpoint"
	KeyCorrelationID = "correlation_id"
)

// Body encodings recorded under KeyBodyType.
const (
	BodyNull   = "null"
	BodyString = "string"
	BodyBytes  = "bytes"
	BodyJSON   = "json"
)

// Metadata represents the string headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// IsReserved reports whether key is exchange bookkeeping rather than a header.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, KeyPrefix)
}
