// Package identity generates the human-readable display names and room
// codes used when the local device introduces itself to a room.
package identity

import (
	"fmt"
	"math/rand"
	"strings"
)

// RoomCodeAlphabet deliberately omits O and 0 so codes read aloud or
// copied by hand stay unambiguous.
const RoomCodeAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

var adjectives = []string{
	"Amber", "Brave", "Calm", "Clever", "Cosmic", "Crimson", "Eager",
	"Gentle", "Golden", "Happy", "Keen", "Lively", "Lunar", "Mellow",
	"Nimble", "Polar", "Quiet", "Rapid", "Silver", "Sunny", "Swift",
	"Witty",
}

var nouns = []string{
	"Badger", "Comet", "Condor", "Dolphin", "Falcon", "Fox", "Gecko",
	"Heron", "Koala", "Lynx", "Maple", "Meteor", "Otter", "Panda",
	"Pine", "Puffin", "Raven", "River", "Sparrow", "Tiger", "Walrus",
	"Willow",
}

// GenerateUsername returns a random "{adjective}{noun}{number}" display
// name. Collisions are acceptable; nothing downstream assumes uniqueness.
func GenerateUsername() string {
	adjective := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	number := rand.Intn(9999) + 1
	return fmt.Sprintf("%s%s%d", adjective, noun, number)
}

// GenerateRoomCode returns an XXXX-XXXX code drawn from RoomCodeAlphabet.
// It is only used as a local fallback when the gateway cannot be reached;
// a code returned by the gateway is always authoritative.
func GenerateRoomCode() string {
	var b strings.Builder
	b.Grow(9)
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		b.WriteByte(RoomCodeAlphabet[rand.Intn(len(RoomCodeAlphabet))])
	}
	return b.String()
}
