package types

import "time"

// Election event kinds published on the events channel.
const (
	EventElectionCreated = "election.created"
	EventElectionClosed  = "election.closed"
	EventElectionDeleted = "election.deleted"
	EventVoteRecorded    = "vote.recorded"
)

// ElectionEvent is a notification about an election. It never names a voter
// or the content of a ballot.
type ElectionEvent struct {
	Type       string    `json:"type"`
	ElectionID int       `json:"electionId"`
	Title      string    `json:"title,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
