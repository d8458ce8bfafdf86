package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ballotd/apiserver/internal/store"
	"github.com/ballotd/apiserver/types"
	"github.com/sirupsen/logrus"
)

// ElectionRepository defines persistence operations for elections.
type ElectionRepository interface {
	List(ctx context.Context) ([]types.Election, error)
	Get(ctx context.Context, id int) (types.Election, error)
	Create(ctx context.Context, title string, candidateIDs, voterIDs []int) (types.Election, error)
	Complete(ctx context.Context, id int) (types.Election, bool, error)
	Delete(ctx context.Context, id int) error
	CastBallot(ctx context.Context, electionID, voterID int, candidateID *int, check store.BallotCheck) error
}

// VoteRepository defines read access to the ballot ledger.
type VoteRepository interface {
	CountByElection(ctx context.Context, electionID int) ([]types.ElectionResult, error)
}

// EventPublisher delivers election events to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, event types.ElectionEvent) error
}

// ResultsArchive keeps a copy of the final results of completed elections.
type ResultsArchive interface {
	Store(ctx context.Context, electionID int, results []types.ElectionResult) error
	Remove(ctx context.Context, electionID int) error
}

// CreateElectionInput carries the fields of a new election.
type CreateElectionInput struct {
	Title            string
	CandidateIDs     []int
	EligibleVoterIDs []int
}

// ElectionService encapsulates election use-cases.
type ElectionService struct {
	elections ElectionRepository
	votes     VoteRepository
	users     UserRepository
	events    EventPublisher
	archive   ResultsArchive
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewElectionService(
	elections ElectionRepository,
	votes VoteRepository,
	users UserRepository,
	events EventPublisher,
	archive ResultsArchive,
	log logrus.FieldLogger,
) *ElectionService {
	return &ElectionService{
		elections: elections,
		votes:     votes,
		users:     users,
		events:    events,
		archive:   archive,
		log:       log,
		now:       time.Now,
	}
}

func (s *ElectionService) List(ctx context.Context) ([]types.Election, error) {
	return s.elections.List(ctx)
}

func (s *ElectionService) Get(ctx context.Context, id int) (types.Election, error) {
	election, err := s.elections.Get(ctx, id)
	if err != nil {
		return types.Election{}, electionLookupError(err)
	}
	return election, nil
}

func (s *ElectionService) Create(ctx context.Context, principal types.Principal, in CreateElectionInput) (types.Election, error) {
	if err := RequireRole(principal, types.RoleAdmin); err != nil {
		return types.Election{}, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return types.Election{}, fmt.Errorf("%w: title is required", ErrBadRequest)
	}

	election, err := s.elections.Create(ctx, title, uniqueIDs(in.CandidateIDs), uniqueIDs(in.EligibleVoterIDs))
	if err != nil {
		return types.Election{}, err
	}

	s.log.WithFields(logrus.Fields{
		"election_id": election.ID,
		"candidates":  len(election.Candidates),
		"voters":      len(election.EligibleVoters),
		"by":          principal.Username,
	}).Info("election created")
	s.publish(ctx, types.EventElectionCreated, election)
	return election, nil
}

// Close completes an election. Closing a completed election changes nothing.
func (s *ElectionService) Close(ctx context.Context, principal types.Principal, id int) (types.Election, error) {
	if err := RequireRole(principal, types.RoleAdmin); err != nil {
		return types.Election{}, err
	}

	election, changed, err := s.elections.Complete(ctx, id)
	if err != nil {
		return types.Election{}, electionLookupError(err)
	}
	// Only the call that made the transition announces it.
	if !changed {
		return election, nil
	}

	s.log.WithFields(logrus.Fields{"election_id": id, "by": principal.Username}).Info("election closed")
	s.publish(ctx, types.EventElectionClosed, election)
	s.archiveResults(ctx, id)
	return election, nil
}

// Delete removes an election together with its ballots.
func (s *ElectionService) Delete(ctx context.Context, principal types.Principal, id int) error {
	if err := RequireRole(principal, types.RoleAdmin); err != nil {
		return err
	}

	if err := s.elections.Delete(ctx, id); err != nil {
		return electionLookupError(err)
	}

	s.log.WithFields(logrus.Fields{"election_id": id, "by": principal.Username}).Info("election deleted")
	s.publish(ctx, types.EventElectionDeleted, types.Election{ID: id})
	if s.archive != nil {
		if err := s.archive.Remove(ctx, id); err != nil {
			s.log.WithError(err).WithField("election_id", id).Warn("failed to remove archived results")
		}
	}
	return nil
}

// CastVote records one ballot of the calling user. A nil candidateID is an
// abstention. Preconditions are checked in order and the first failure wins:
// the election exists, is open, the caller is eligible, has not voted yet and
// the candidate runs in this election.
func (s *ElectionService) CastVote(ctx context.Context, principal types.Principal, electionID int, candidateID *int) error {
	if principal.IsZero() {
		return ErrUnauthenticated
	}
	voter, err := s.users.GetByUsername(ctx, principal.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: account no longer exists", ErrUnauthenticated)
		}
		return err
	}

	check := func(election types.Election) error {
		if election.Status != types.ElectionOpen {
			return ErrElectionClosed
		}
		if !election.IsEligible(voter.ID) {
			return fmt.Errorf("%w: not eligible to vote", ErrForbidden)
		}
		if election.HasVoted(voter.ID) {
			return fmt.Errorf("%w: already voted", ErrConflict)
		}
		if candidateID != nil && !election.HasCandidate(*candidateID) {
			return fmt.Errorf("%w: invalid candidate", ErrBadRequest)
		}
		return nil
	}

	if err := s.elections.CastBallot(ctx, electionID, voter.ID, candidateID, check); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: election not found", ErrNotFound)
		case errors.Is(err, store.ErrConflict):
			return fmt.Errorf("%w: already voted", ErrConflict)
		case errors.Is(err, store.ErrReferenced):
			return fmt.Errorf("%w: invalid candidate", ErrBadRequest)
		}
		return err
	}

	// Voter and candidate are never logged together.
	s.log.WithField("election_id", electionID).Info("ballot recorded")
	s.publish(ctx, types.EventVoteRecorded, types.Election{ID: electionID})
	return nil
}

// Results tallies a completed election.
func (s *ElectionService) Results(ctx context.Context, id int) ([]types.ElectionResult, error) {
	election, err := s.elections.Get(ctx, id)
	if err != nil {
		return nil, electionLookupError(err)
	}
	if election.Status != types.ElectionCompleted {
		return nil, fmt.Errorf("%w: election is still open, results are hidden", ErrForbidden)
	}
	return s.votes.CountByElection(ctx, id)
}

func (s *ElectionService) publish(ctx context.Context, eventType string, election types.Election) {
	if s.events == nil {
		return
	}
	event := types.ElectionEvent{
		Type:       eventType,
		ElectionID: election.ID,
		Title:      election.Title,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"election_id": election.ID,
			"event":       eventType,
		}).Warn("failed to publish election event")
	}
}

func (s *ElectionService) archiveResults(ctx context.Context, id int) {
	if s.archive == nil {
		return
	}
	results, err := s.votes.CountByElection(ctx, id)
	if err == nil {
		err = s.archive.Store(ctx, id, results)
	}
	if err != nil {
		s.log.WithError(err).WithField("election_id", id).Warn("failed to archive election results")
	}
}

func electionLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: election not found", ErrNotFound)
	}
	return err
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
