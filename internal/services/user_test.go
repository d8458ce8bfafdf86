package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ballotd/apiserver/types"
)

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name      string
		principal types.Principal
		role      types.Role
		wantErr   bool
	}{
		{name: "admin as admin", principal: types.Principal{Username: "root", Role: types.RoleAdmin}, role: types.RoleAdmin},
		{name: "user as admin", principal: types.Principal{Username: "alice", Role: types.RoleUser}, role: types.RoleAdmin, wantErr: true},
		{name: "anonymous", principal: types.Principal{}, role: types.RoleAdmin, wantErr: true},
		{name: "unknown role", principal: types.Principal{Username: "bob", Role: types.Role("SUPER")}, role: types.RoleAdmin, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := RequireRole(tc.principal, tc.role)
			if tc.wantErr && !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected forbidden, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.users.EnsureBootstrapAdmin(ctx, "rsuDbIBigjfUiceR")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if !created {
		t.Fatalf("expected admin to be created")
	}

	created, err = f.users.EnsureBootstrapAdmin(ctx, "other")
	if err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}
	if created {
		t.Fatalf("expected second call to be a no-op")
	}

	user, err := f.users.Authenticate(ctx, "ADMIN", "rsuDbIBigjfUiceR")
	if err != nil {
		t.Fatalf("authenticate admin: %v", err)
	}
	if user.Role != types.RoleAdmin {
		t.Fatalf("expected ADMIN role, got %s", user.Role)
	}
}

func TestCreateUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	user, err := f.users.Create(ctx, adminPrincipal, CreateUserInput{
		Username:  "  alice ",
		Password:  "pw",
		FirstName: "Alice",
		LastName:  "Smith",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", user.Username)
	}
	if user.Role != types.RoleUser {
		t.Fatalf("expected default USER role, got %s", user.Role)
	}
	if user.PasswordHash == "" || user.PasswordHash == "pw" {
		t.Fatalf("expected hashed password")
	}

	_, err = f.users.Create(ctx, adminPrincipal, CreateUserInput{Username: "ALICE", Password: "pw"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for case-insensitive duplicate, got %v", err)
	}

	_, err = f.users.Create(ctx, adminPrincipal, CreateUserInput{Username: "bob", Password: "pw", Role: "OWNER"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for unknown role, got %v", err)
	}

	_, err = f.users.Create(ctx, adminPrincipal, CreateUserInput{Username: "bob"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for missing password, got %v", err)
	}

	_, err = f.users.Create(ctx, types.Principal{Username: "alice", Role: types.RoleUser}, CreateUserInput{Username: "carol", Password: "pw"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.mustUser(t, "Alice", "Alice", "Smith")

	if _, err := f.users.Authenticate(ctx, "alice", "secret"); err != nil {
		t.Fatalf("expected case-insensitive login, got %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for bad password, got %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "nobody", "secret"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for unknown user, got %v", err)
	}
}

func TestCurrentUsesExactUsername(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, principal := f.mustUser(t, "Alice", "", "")

	user, err := f.users.Current(ctx, principal)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if user.Username != "Alice" {
		t.Fatalf("unexpected user %q", user.Username)
	}

	_, err = f.users.Current(ctx, types.Principal{Username: "alice", Role: types.RoleUser})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for different case, got %v", err)
	}
}

func TestBootstrapAdminIsProtected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.users.EnsureBootstrapAdmin(ctx, "pw"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	admin, err := f.users.Authenticate(ctx, BootstrapAdminUsername, "pw")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	renamed := "root"
	if _, err := f.users.Update(ctx, adminPrincipal, admin.ID, UpdateUserInput{Username: &renamed}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden update, got %v", err)
	}
	if err := f.users.Delete(ctx, adminPrincipal, admin.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err := f.users.ResetPassword(ctx, adminPrincipal, admin.ID, "new"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden password reset, got %v", err)
	}

	if _, err := f.users.Authenticate(ctx, BootstrapAdminUsername, "pw"); err != nil {
		t.Fatalf("admin credentials changed: %v", err)
	}
}

func TestUpdateUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, _ := f.mustUser(t, "alice", "Alice", "Smith")
	f.mustUser(t, "bob", "Bob", "Jones")

	first := "Alicia"
	role := "admin"
	updated, err := f.users.Update(ctx, adminPrincipal, alice.ID, UpdateUserInput{FirstName: &first, Role: &role})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.FirstName != "Alicia" || updated.LastName != "Smith" {
		t.Fatalf("unexpected names %q %q", updated.FirstName, updated.LastName)
	}
	if updated.Role != types.RoleAdmin {
		t.Fatalf("expected ADMIN, got %s", updated.Role)
	}

	taken := "BOB"
	if _, err := f.users.Update(ctx, adminPrincipal, alice.ID, UpdateUserInput{Username: &taken}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on rename, got %v", err)
	}

	if _, err := f.users.Update(ctx, adminPrincipal, 999, UpdateUserInput{FirstName: &first}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, _ := f.mustUser(t, "alice", "", "")

	if err := f.users.ResetPassword(ctx, adminPrincipal, alice.ID, ""); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for empty password, got %v", err)
	}
	if err := f.users.ResetPassword(ctx, adminPrincipal, alice.ID, "changed"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "alice", "secret"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old password still accepted")
	}
	if _, err := f.users.Authenticate(ctx, "alice", "changed"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestResetPasswordChecksTargetFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.users.EnsureBootstrapAdmin(ctx, "pw"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	admin, err := f.users.Authenticate(ctx, BootstrapAdminUsername, "pw")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if err := f.users.ResetPassword(ctx, adminPrincipal, admin.ID, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for bootstrap admin with empty password, got %v", err)
	}
	if err := f.users.ResetPassword(ctx, adminPrincipal, 999, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing user with empty password, got %v", err)
	}
}

func TestOverlongPasswordIsBadRequest(t *testing.T) {
	f := newFixture()
	f.users = NewUserService(memUsers{f.store}, NewBcryptHasher(), discardLogger())
	ctx := context.Background()
	long := strings.Repeat("x", 73)

	_, err := f.users.Create(ctx, adminPrincipal, CreateUserInput{Username: "alice", Password: long})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request creating user, got %v", err)
	}

	bob, err := f.users.Create(ctx, adminPrincipal, CreateUserInput{Username: "bob", Password: strings.Repeat("x", 72)})
	if err != nil {
		t.Fatalf("72-byte password rejected: %v", err)
	}
	if err := f.users.ResetPassword(ctx, adminPrincipal, bob.ID, long); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request resetting password, got %v", err)
	}
}

func TestDeleteUserReferencedByVote(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cand, _ := f.mustUser(t, "cand", "Cand", "Idate")
	voter, voterPrincipal := f.mustUser(t, "voter", "", "")
	idle, _ := f.mustUser(t, "idle", "", "")

	election, err := f.elections.Create(ctx, adminPrincipal, CreateElectionInput{
		Title:            "Board",
		CandidateIDs:     []int{cand.ID},
		EligibleVoterIDs: []int{voter.ID, idle.ID},
	})
	if err != nil {
		t.Fatalf("create election: %v", err)
	}
	if err := f.elections.CastVote(ctx, voterPrincipal, election.ID, &cand.ID); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if err := f.users.Delete(ctx, adminPrincipal, cand.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict deleting referenced candidate, got %v", err)
	}
	if err := f.users.Delete(ctx, adminPrincipal, voter.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict deleting a voter who voted, got %v", err)
	}
	if err := f.users.Delete(ctx, adminPrincipal, idle.ID); err != nil {
		t.Fatalf("delete idle voter: %v", err)
	}
	if _, err := f.users.Get(ctx, idle.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted user to be gone, got %v", err)
	}

	updated, err := f.elections.Get(ctx, election.ID)
	if err != nil {
		t.Fatalf("get election: %v", err)
	}
	if len(updated.EligibleVoters) != 1 || len(updated.VotedUserIDs) != 1 {
		t.Fatalf("unexpected membership after delete: %+v", updated)
	}
}
