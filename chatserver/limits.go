package chatserver

import "time"

// Operational limits — named constants for values that would otherwise be
// scattered across the package.
const (
	// LobbyName is the one room that always exists and can never be removed.
	LobbyName = "lobby"

	// outgoingBufferSize is the bounded capacity of each peer's outgoing
	// frame channel.
	outgoingBufferSize = 32

	// dropThreshold is the number of consecutive dropped frames (outgoing
	// channel full) before a peer is disconnected.
	dropThreshold uint32 = 50

	// dropProbeInterval lets one send through every N drops once the
	// breaker has opened, so a recovered peer is detected.
	dropProbeInterval uint32 = 25

	// invitationTTL is how long a pending invitation remains valid before
	// it is swept.
	invitationTTL = time.Hour

	// invitationSweepInterval is how often the periodic sweep runs.
	invitationSweepInterval = 10 * time.Minute
)
