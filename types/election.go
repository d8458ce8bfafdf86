package types

// ElectionStatus is the lifecycle state of an election.
// The only transition is OPEN -> COMPLETED.
type ElectionStatus string

const (
	ElectionOpen      ElectionStatus = "OPEN"
	ElectionCompleted ElectionStatus = "COMPLETED"
)

// Election is a ballot over a fixed candidate set, restricted to a fixed set
// of eligible voters.
type Election struct {
	// ID is the unique identifier of the election.
	ID int `json:"id" db:"id"`

	// Title is the human readable name of the election.
	Title string `json:"title" db:"title"`

	// Status is OPEN while ballots are accepted and COMPLETED afterwards.
	Status ElectionStatus `json:"status" db:"status"`

	// Candidates are the users that may be voted for.
	Candidates []User `json:"candidates"`

	// EligibleVoters are the users that may cast a ballot.
	EligibleVoters []User `json:"eligibleVoters"`

	// VotedUserIDs lists the voters that already cast a ballot. It is kept
	// apart from the ballots themselves so a ballot cannot be traced back.
	VotedUserIDs []int `json:"userIdsWhoVoted"`
}

// HasCandidate reports whether userID is running in the election.
func (e Election) HasCandidate(userID int) bool {
	return containsUser(e.Candidates, userID)
}

// IsEligible reports whether userID may vote in the election.
func (e Election) IsEligible(userID int) bool {
	return containsUser(e.EligibleVoters, userID)
}

// HasVoted reports whether userID already cast a ballot.
func (e Election) HasVoted(userID int) bool {
	for _, id := range e.VotedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func containsUser(users []User, userID int) bool {
	for _, user := range users {
		if user.ID == userID {
			return true
		}
	}
	return false
}
