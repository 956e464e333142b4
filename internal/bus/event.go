package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used by the sync core:
//
//	history.load_started / history.load_finished   around backward page fetches
//	message.new                                    unread incoming message saved
//	message.saved                                  any message committed to the store
//	sync.phase_changed                             account sync phase transition
//	sync.bootstrap_complete                        roster bootstrap cursor exhausted
//	prefs.updated                                  archiving preference applied
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
