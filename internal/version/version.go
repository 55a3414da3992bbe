// ABOUTME: Version and product identification for jackstream binaries
// ABOUTME: The version doubles as the protocol version sent in the handshake reply
package version

const (
	// Version is the protocol and software version
	Version = "0.01"

	// Product is the name shown in banners and discovery records
	Product = "jackstream"

	// Manufacturer identifies the project
	Manufacturer = "jackstream"
)

// Talk and Listen are the binary names
const (
	Talk   = "jackstream-talk"
	Listen = "jackstream-listen"
)
