// ABOUTME: Channel index conversion between wire and internal numbering
// ABOUTME: The wire is 1-based; everything behind ChannelFromWire is 0-based
package protocol

// Channel is a 0-based channel index
type Channel int

// DefaultChannel is what a new client listens to
const DefaultChannel Channel = 0

// ChannelFromWire converts a 1-based wire number
func ChannelFromWire(n int) Channel {
	return Channel(n - 1)
}

// Wire returns the 1-based wire number
func (c Channel) Wire() int {
	return int(c) + 1
}

// InRange reports whether c addresses one of count channels
func (c Channel) InRange(count int) bool {
	return c >= 0 && int(c) < count
}
