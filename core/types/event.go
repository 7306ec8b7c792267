package types

// Event is the wire form of an emitted event: a type tag plus flat string
// attributes, ready for JSON transport or log attachment.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
