package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ballotd/apiserver/internal/store"
	"github.com/ballotd/apiserver/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory stand-in for the Postgres repositories. A single
// mutex plays the role of the row lock taken by CastBallot.
type memStore struct {
	mu        sync.Mutex
	nextUser  int
	nextElect int
	users     map[int]types.User
	elections map[int]*memElection
	votes     []types.Vote
	// checking counts ballot checks in flight. Repository reads during a
	// check would need a second connection while the row lock is held.
	checking int
}

type memElection struct {
	id         int
	title      string
	status     types.ElectionStatus
	candidates []int
	voters     []int
	voted      map[int]bool
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[int]types.User),
		elections: make(map[int]*memElection),
	}
}

type memUsers struct{ s *memStore }
type memElections struct{ s *memStore }
type memVotes struct{ s *memStore }

func (r memUsers) List(ctx context.Context) ([]types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := make([]types.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r memUsers) GetByID(ctx context.Context, id int) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.checking > 0 {
		return types.User{}, errors.New("user lookup while a ballot row is locked")
	}
	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r memUsers) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r memUsers) GetByUsernameFold(ctx context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return strings.EqualFold(u.Username, username) })
}

func (r memUsers) ExistsByUsernameFold(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsernameFold(ctx, username)
	return err == nil, nil
}

func (r memUsers) Create(ctx context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.usernameTaken(user.Username, 0) {
		return types.User{}, store.ErrConflict
	}
	r.s.nextUser++
	user.ID = r.s.nextUser
	r.s.users[user.ID] = user
	return user, nil
}

func (r memUsers) Update(ctx context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if r.s.usernameTaken(user.Username, user.ID) {
		return types.User{}, store.ErrConflict
	}
	user.PasswordHash = current.PasswordHash
	r.s.users[user.ID] = user
	return user, nil
}

func (r memUsers) UpdatePassword(ctx context.Context, id int, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	r.s.users[id] = user
	return nil
}

func (r memUsers) Delete(ctx context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return store.ErrNotFound
	}
	for _, vote := range r.s.votes {
		if vote.CandidateID != nil && *vote.CandidateID == id {
			return store.ErrReferenced
		}
	}
	for _, e := range r.s.elections {
		if e.voted[id] {
			return store.ErrReferenced
		}
	}
	delete(r.s.users, id)
	for _, e := range r.s.elections {
		e.candidates = without(e.candidates, id)
		e.voters = without(e.voters, id)
	}
	return nil
}

func (r memUsers) find(match func(types.User) bool) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if match(user) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (s *memStore) usernameTaken(username string, exceptID int) bool {
	for id, user := range s.users {
		if id != exceptID && strings.EqualFold(user.Username, username) {
			return true
		}
	}
	return false
}

func (r memElections) List(ctx context.Context) ([]types.Election, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	elections := make([]types.Election, 0, len(r.s.elections))
	for _, e := range r.s.elections {
		elections = append(elections, r.s.snapshot(e))
	}
	sort.Slice(elections, func(i, j int) bool { return elections[i].ID < elections[j].ID })
	return elections, nil
}

func (r memElections) Get(ctx context.Context, id int) (types.Election, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.elections[id]
	if !ok {
		return types.Election{}, store.ErrNotFound
	}
	return r.s.snapshot(e), nil
}

func (r memElections) Create(ctx context.Context, title string, candidateIDs, voterIDs []int) (types.Election, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextElect++
	e := &memElection{
		id:         r.s.nextElect,
		title:      title,
		status:     types.ElectionOpen,
		candidates: r.s.existing(candidateIDs),
		voters:     r.s.existing(voterIDs),
		voted:      make(map[int]bool),
	}
	r.s.elections[e.id] = e
	return r.s.snapshot(e), nil
}

func (r memElections) Complete(ctx context.Context, id int) (types.Election, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.elections[id]
	if !ok {
		return types.Election{}, false, store.ErrNotFound
	}
	changed := e.status == types.ElectionOpen
	e.status = types.ElectionCompleted
	return r.s.snapshot(e), changed, nil
}

func (r memElections) Delete(ctx context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.elections[id]; !ok {
		return store.ErrNotFound
	}
	kept := r.s.votes[:0]
	for _, vote := range r.s.votes {
		if vote.ElectionID != id {
			kept = append(kept, vote)
		}
	}
	r.s.votes = kept
	delete(r.s.elections, id)
	return nil
}

func (r memElections) CastBallot(ctx context.Context, electionID, voterID int, candidateID *int, check store.BallotCheck) error {
	r.s.mu.Lock()
	e, ok := r.s.elections[electionID]
	if !ok {
		r.s.mu.Unlock()
		return store.ErrNotFound
	}
	snapshot := r.s.snapshot(e)
	r.s.checking++
	r.s.mu.Unlock()

	// The participation write below re-validates like the primary key does.
	var err error
	if check != nil {
		err = check(snapshot)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.checking--
	if err != nil {
		return err
	}
	if e.voted[voterID] {
		return store.ErrConflict
	}
	e.voted[voterID] = true
	r.s.votes = append(r.s.votes, types.Vote{ID: len(r.s.votes) + 1, ElectionID: electionID, CandidateID: candidateID})
	return nil
}

func (r memVotes) CountByElection(ctx context.Context, electionID int) ([]types.ElectionResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	type key struct {
		abstain bool
		id      int
	}
	counts := make(map[key]*types.ElectionResult)
	order := make([]key, 0)
	for _, vote := range r.s.votes {
		if vote.ElectionID != electionID {
			continue
		}
		k := key{abstain: vote.CandidateID == nil}
		name := types.AbstainLabel
		if vote.CandidateID != nil {
			k.id = *vote.CandidateID
			name = r.s.users[k.id].DisplayName()
		}
		if counts[k] == nil {
			result := &types.ElectionResult{CandidateName: name}
			if !k.abstain {
				id := k.id
				result.CandidateID = &id
			}
			counts[k] = result
			order = append(order, k)
		}
		counts[k].Count++
	}
	results := make([]types.ElectionResult, 0, len(order))
	for _, k := range order {
		results = append(results, *counts[k])
	}
	return results, nil
}

func (s *memStore) votesFor(electionID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, vote := range s.votes {
		if vote.ElectionID == electionID {
			n++
		}
	}
	return n
}

func (s *memStore) snapshot(e *memElection) types.Election {
	election := types.Election{
		ID:             e.id,
		Title:          e.title,
		Status:         e.status,
		Candidates:     make([]types.User, 0, len(e.candidates)),
		EligibleVoters: make([]types.User, 0, len(e.voters)),
		VotedUserIDs:   make([]int, 0, len(e.voted)),
	}
	for _, id := range e.candidates {
		election.Candidates = append(election.Candidates, s.users[id])
	}
	for _, id := range e.voters {
		election.EligibleVoters = append(election.EligibleVoters, s.users[id])
	}
	for id := range e.voted {
		election.VotedUserIDs = append(election.VotedUserIDs, id)
	}
	sort.Ints(election.VotedUserIDs)
	return election
}

func (s *memStore) existing(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.users[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func without(ids []int, id int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.ElectionEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event types.ElectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingArchive struct {
	mu      sync.Mutex
	stored  map[int][]types.ElectionResult
	writes  int
	removed []int
}

func (a *recordingArchive) Store(ctx context.Context, electionID int, results []types.ElectionResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stored == nil {
		a.stored = make(map[int][]types.ElectionResult)
	}
	a.stored[electionID] = results
	a.writes++
	return nil
}

func (a *recordingArchive) Remove(ctx context.Context, electionID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, electionID)
	return nil
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var (
	adminPrincipal = types.Principal{Username: BootstrapAdminUsername, Role: types.RoleAdmin}
	fastHasher     = BcryptHasher{Cost: bcrypt.MinCost}
)

type fixture struct {
	store     *memStore
	users     *UserService
	elections *ElectionService
	events    *recordingPublisher
	archive   *recordingArchive
}

func newFixture() *fixture {
	s := newMemStore()
	log := discardLogger()
	events := &recordingPublisher{}
	archive := &recordingArchive{}
	return &fixture{
		store:     s,
		users:     NewUserService(memUsers{s}, fastHasher, log),
		elections: NewElectionService(memElections{s}, memVotes{s}, memUsers{s}, events, archive, log),
		events:    events,
		archive:   archive,
	}
}

// mustUser creates a USER account and returns it with its principal.
func (f *fixture) mustUser(t *testing.T, username, first, last string) (types.User, types.Principal) {
	t.Helper()
	user, err := f.users.Create(context.Background(), adminPrincipal, CreateUserInput{
		Username:  username,
		Password:  "secret",
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user, types.Principal{Username: user.Username, Role: user.Role}
}
