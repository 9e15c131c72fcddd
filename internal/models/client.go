package models

// Client is a connected peer the service can write protocol lines to.
// Send appends the newline and must be safe for concurrent use.
type Client interface {
	ID() string
	RemoteAddr() string
	Send(line string) error
}
