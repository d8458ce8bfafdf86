package store

import (
	"context"
	"database/sql"

	"github.com/ballotd/apiserver/types"
)

// VoteRepository reads the ballot ledger. Ballots are written by
// ElectionRepository.CastBallot.
type VoteRepository struct {
	db *sql.DB
}

func NewVoteRepository(db *sql.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// CountByElection tallies the ballots of an election per candidate. Blank
// ballots are grouped under a nil candidate named types.AbstainLabel.
func (r *VoteRepository) CountByElection(ctx context.Context, electionID int) ([]types.ElectionResult, error) {
	const query = `
		SELECT c.id, c.first_name, c.last_name, COUNT(v.id)
		FROM votes v
		LEFT JOIN users c ON c.id = v.candidate_id
		WHERE v.election_id = $1
		GROUP BY c.id, c.first_name, c.last_name`
	rows, err := r.db.QueryContext(ctx, query, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]types.ElectionResult, 0)
	for rows.Next() {
		var (
			candidateID         sql.NullInt64
			firstName, lastName sql.NullString
			result              types.ElectionResult
		)
		if err := rows.Scan(&candidateID, &firstName, &lastName, &result.Count); err != nil {
			return nil, err
		}
		result.CandidateName = types.AbstainLabel
		if candidateID.Valid {
			id := int(candidateID.Int64)
			result.CandidateID = &id
			result.CandidateName = types.User{FirstName: firstName.String, LastName: lastName.String}.DisplayName()
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
