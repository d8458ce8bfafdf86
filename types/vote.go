package types

// AbstainLabel is the display name of the bucket counting blank ballots.
const AbstainLabel = "Abstain"

// Vote is an anonymous ballot. It carries no reference to the voter.
type Vote struct {
	ID          int  `json:"id" db:"id"`
	ElectionID  int  `json:"electionId" db:"election_id"`
	CandidateID *int `json:"candidateId" db:"candidate_id"`
}

// ElectionResult is the tally of one candidate, or of abstentions when
// CandidateID is nil.
type ElectionResult struct {
	CandidateID   *int   `json:"candidateId"`
	CandidateName string `json:"candidateName"`
	Count         int64  `json:"count"`
}
