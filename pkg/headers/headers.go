// Package headers provides a case-insensitive HTTP header dictionary with a
// tagged fast path for the small set of headers the engine inspects on every
// request (Content-Length, Connection, the conditional-request family, the
// WebSocket handshake headers, ...). Headers outside that set still round
// trip correctly, just through a plain map lookup instead of the enum path.
package headers

import "strings"

// Known identifies one of the headers the pipeline and codec branch on
// directly, avoiding a map lookup (and the associated hashing/allocation)
// on the hot path of every request.
type Known int

const (
	Unknown Known = iota
	ContentType
	ContentLength
	ContentEncoding
	TransferEncoding
	Connection
	Host
	AcceptEncoding
	IfMatch
	IfNoneMatch
	IfModifiedSince
	IfUnmodifiedSince
	ETag
	LastModified
	Authorization
	Upgrade
	SecWebSocketKey
	SecWebSocketAccept
	SecWebSocketVersion
	SecWebSocketProtocol
	Allow
	Location
	Server
	Date
	WWWAuthenticate
	knownCount
)

var canonicalNames = map[Known]string{
	ContentType:          "Content-Type",
	ContentLength:        "Content-Length",
	ContentEncoding:      "Content-Encoding",
	TransferEncoding:     "Transfer-Encoding",
	Connection:           "Connection",
	Host:                 "Host",
	AcceptEncoding:       "Accept-Encoding",
	IfMatch:              "If-Match",
	IfNoneMatch:          "If-None-Match",
	IfModifiedSince:      "If-Modified-Since",
	IfUnmodifiedSince:    "If-Unmodified-Since",
	ETag:                 "ETag",
	LastModified:         "Last-Modified",
	Authorization:        "Authorization",
	Upgrade:              "Upgrade",
	SecWebSocketKey:      "Sec-WebSocket-Key",
	SecWebSocketAccept:   "Sec-WebSocket-Accept",
	SecWebSocketVersion:  "Sec-WebSocket-Version",
	SecWebSocketProtocol: "Sec-WebSocket-Protocol",
	Allow:                "Allow",
	Location:             "Location",
	Server:               "Server",
	Date:                 "Date",
	WWWAuthenticate:      "WWW-Authenticate",
}

var lookupTable = buildLookup()

func buildLookup() map[string]Known {
	m := make(map[string]Known, len(canonicalNames))
	for k, name := range canonicalNames {
		m[strings.ToLower(name)] = k
	}
	return m
}

func classify(name string) Known {
	if k, ok := lookupTable[strings.ToLower(name)]; ok {
		return k
	}
	return Unknown
}

// Map is a case-insensitive, multi-valued header dictionary.
type Map struct {
	known [knownCount][]string
	other map[string][]string // lowercase key -> values
	cased map[string]string   // lowercase key -> first-seen canonical casing
	order []string            // lowercase keys, insertion order, for serialization
}

// New returns an empty header map.
func New() *Map {
	return &Map{other: make(map[string][]string), cased: make(map[string]string)}
}

// Add appends a value, preserving any existing values for the same header.
func (m *Map) Add(name, value string) {
	k := classify(name)
	lower := strings.ToLower(name)
	if _, seen := m.cased[lower]; !seen {
		m.order = append(m.order, lower)
		m.cased[lower] = name
	}
	if k != Unknown {
		m.known[k] = append(m.known[k], value)
		return
	}
	m.other[lower] = append(m.other[lower], value)
}

// Set replaces all values for a header.
func (m *Map) Set(name, value string) {
	k := classify(name)
	lower := strings.ToLower(name)
	if _, seen := m.cased[lower]; !seen {
		m.order = append(m.order, lower)
		m.cased[lower] = name
	}
	if k != Unknown {
		m.known[k] = []string{value}
		return
	}
	m.other[lower] = []string{value}
}

// Del removes a header entirely.
func (m *Map) Del(name string) {
	k := classify(name)
	lower := strings.ToLower(name)
	if k != Unknown {
		m.known[k] = nil
	} else {
		delete(m.other, lower)
	}
	delete(m.cased, lower)
	for i, n := range m.order {
		if n == lower {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the first value for a header, or "" if absent.
func (m *Map) Get(name string) string {
	vals := m.Values(name)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// GetKnown returns the first value for a Known header, bypassing the map lookup.
func (m *Map) GetKnown(k Known) string {
	if len(m.known[k]) == 0 {
		return ""
	}
	return m.known[k][0]
}

// Values returns all values for a header.
func (m *Map) Values(name string) []string {
	k := classify(name)
	if k != Unknown {
		return m.known[k]
	}
	return m.other[strings.ToLower(name)]
}

// Has reports whether a header is present.
func (m *Map) Has(name string) bool {
	return len(m.Values(name)) > 0
}

// Each calls fn for every header in insertion order, using the
// first-seen casing for the name.
func (m *Map) Each(fn func(name string, values []string)) {
	for _, lower := range m.order {
		k := classify(m.cased[lower])
		var vals []string
		if k != Unknown {
			vals = m.known[k]
		} else {
			vals = m.other[lower]
		}
		if len(vals) == 0 {
			continue
		}
		fn(m.cased[lower], vals)
	}
}

// Count returns the number of distinct header names present.
func (m *Map) Count() int {
	n := 0
	m.Each(func(string, []string) { n++ })
	return n
}
