// Package ids generates identifiers for messages, commands and buffer
// entries. Centralized so every subsystem produces ids the same way.
package ids

import "github.com/google/uuid"

// New returns a new random identifier suitable for Message.ID, BufferEntry.ID
// and BatchCommand.CommandID.
func New() string {
	return uuid.NewString()
}
