package drain

// Event is an opaque payload with string headers, as produced by a Channel.
// Events are treated as immutable once taken.
type Event struct {
	Headers map[string]string
	Body    []byte
}

// Header returns the header value for key, or an empty string.
func (e Event) Header(key string) string {
	if e.Headers == nil {
		return ""
	}

	return e.Headers[key]
}
