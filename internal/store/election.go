package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ballotd/apiserver/types"
	"github.com/lib/pq"
)

// BallotCheck validates a ballot against the locked election before it is
// recorded. A non-nil error aborts the transaction and is returned as is.
// It runs while the transaction holds its connection and the row lock, so it
// must not query the database.
type BallotCheck func(election types.Election) error

// ElectionRepository handles persistence for elections, their member sets
// and the ballots cast in them.
type ElectionRepository struct {
	db *sql.DB
}

func NewElectionRepository(db *sql.DB) *ElectionRepository {
	return &ElectionRepository{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ElectionRepository) List(ctx context.Context) ([]types.Election, error) {
	const query = `SELECT id, title, status FROM elections ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	elections := make([]types.Election, 0)
	for rows.Next() {
		var election types.Election
		if err := rows.Scan(&election.ID, &election.Title, &election.Status); err != nil {
			return nil, err
		}
		elections = append(elections, election)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range elections {
		if err := loadMembers(ctx, r.db, &elections[i]); err != nil {
			return nil, err
		}
	}
	return elections, nil
}

func (r *ElectionRepository) Get(ctx context.Context, id int) (types.Election, error) {
	const query = `SELECT id, title, status FROM elections WHERE id = $1`
	return getElection(ctx, r.db, query, id)
}

// Create stores a new OPEN election. Candidate and voter ids that do not
// belong to an existing user are dropped.
func (r *ElectionRepository) Create(ctx context.Context, title string, candidateIDs, voterIDs []int) (types.Election, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Election{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	const insertElection = `
		INSERT INTO elections (title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	var id int
	if err := tx.QueryRowContext(ctx, insertElection, title, types.ElectionOpen, now, now).Scan(&id); err != nil {
		return types.Election{}, err
	}

	const insertCandidates = `
		INSERT INTO election_candidates (election_id, user_id)
		SELECT $1, id FROM users WHERE id = ANY($2)`
	if _, err := tx.ExecContext(ctx, insertCandidates, id, pq.Array(candidateIDs)); err != nil {
		return types.Election{}, err
	}

	const insertVoters = `
		INSERT INTO election_eligible_voters (election_id, user_id)
		SELECT $1, id FROM users WHERE id = ANY($2)`
	if _, err := tx.ExecContext(ctx, insertVoters, id, pq.Array(voterIDs)); err != nil {
		return types.Election{}, err
	}

	const query = `SELECT id, title, status FROM elections WHERE id = $1`
	election, err := getElection(ctx, tx, query, id)
	if err != nil {
		return types.Election{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Election{}, err
	}
	return election, nil
}

// Complete moves an OPEN election to COMPLETED and reports whether this call
// made the transition. Completing a completed election is a no-op.
func (r *ElectionRepository) Complete(ctx context.Context, id int) (types.Election, bool, error) {
	const update = `UPDATE elections SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, update, types.ElectionCompleted, time.Now(), id, types.ElectionOpen)
	if err != nil {
		return types.Election{}, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Election{}, false, err
	}

	election, err := r.Get(ctx, id)
	if err != nil {
		return types.Election{}, false, err
	}
	return election, affected > 0, nil
}

// Delete removes the ballots of an election and then the election itself in
// one transaction.
func (r *ElectionRepository) Delete(ctx context.Context, id int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const lock = `SELECT id FROM elections WHERE id = $1 FOR UPDATE`
	var locked int
	if err := tx.QueryRowContext(ctx, lock, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE election_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM elections WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// CastBallot locks the election row, runs check against its current state
// and then records the voter's participation and the anonymous ballot. Both
// rows are committed together or not at all.
func (r *ElectionRepository) CastBallot(ctx context.Context, electionID, voterID int, candidateID *int, check BallotCheck) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `SELECT id, title, status FROM elections WHERE id = $1 FOR UPDATE`
	election, err := getElection(ctx, tx, query, electionID)
	if err != nil {
		return err
	}

	if check != nil {
		if err := check(election); err != nil {
			return err
		}
	}

	const insertParticipation = `
		INSERT INTO election_participation (election_id, user_id)
		VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertParticipation, electionID, voterID); err != nil {
		return classify(err)
	}

	const insertVote = `INSERT INTO votes (election_id, candidate_id) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertVote, electionID, candidateID); err != nil {
		return classify(err)
	}

	return tx.Commit()
}

func getElection(ctx context.Context, q queryer, query string, id int) (types.Election, error) {
	var election types.Election
	err := q.QueryRowContext(ctx, query, id).Scan(&election.ID, &election.Title, &election.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Election{}, ErrNotFound
		}
		return types.Election{}, err
	}
	if err := loadMembers(ctx, q, &election); err != nil {
		return types.Election{}, err
	}
	return election, nil
}

func loadMembers(ctx context.Context, q queryer, election *types.Election) error {
	const candidates = `
		SELECT u.id, u.username, u.role, u.first_name, u.last_name, u.password_hash
		FROM election_candidates ec
		JOIN users u ON u.id = ec.user_id
		WHERE ec.election_id = $1
		ORDER BY u.id`
	users, err := queryUsers(ctx, q, candidates, election.ID)
	if err != nil {
		return err
	}
	election.Candidates = users

	const voters = `
		SELECT u.id, u.username, u.role, u.first_name, u.last_name, u.password_hash
		FROM election_eligible_voters ev
		JOIN users u ON u.id = ev.user_id
		WHERE ev.election_id = $1
		ORDER BY u.id`
	users, err = queryUsers(ctx, q, voters, election.ID)
	if err != nil {
		return err
	}
	election.EligibleVoters = users

	const voted = `SELECT user_id FROM election_participation WHERE election_id = $1 ORDER BY user_id`
	rows, err := q.QueryContext(ctx, voted, election.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	election.VotedUserIDs = make([]int, 0)
	for rows.Next() {
		var userID int
		if err := rows.Scan(&userID); err != nil {
			return err
		}
		election.VotedUserIDs = append(election.VotedUserIDs, userID)
	}
	return rows.Err()
}

func queryUsers(ctx context.Context, q queryer, query string, args ...any) ([]types.User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
