package authsession

import (
	"context"
	"errors"
	"testing"

	"matchdeck/trust/internal/audit"
)

type fakeDataStore struct {
	err   error
	calls int
	token string
}

func (f *fakeDataStore) ClearOwnData(_ context.Context, accessToken string) error {
	f.calls++
	f.token = accessToken
	return f.err
}

type fakeAdmin struct {
	err    error
	calls  int
	userID string
}

func (f *fakeAdmin) AdminDeleteUser(_ context.Context, userID string) error {
	f.calls++
	f.userID = userID
	return f.err
}

type recordingAuditor struct {
	actions []string
}

func (r *recordingAuditor) LogEvent(_ context.Context, _, action, _, _ string) {
	r.actions = append(r.actions, action)
}

func TestDeletionHappyPath(t *testing.T) {
	data := &fakeDataStore{}
	admin := &fakeAdmin{}
	auditor := &recordingAuditor{}
	b := NewDeletionBroker(data, admin, auditor)

	if err := b.DeleteAccount(context.Background(), "user-1", "caller-token"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if data.calls != 1 || data.token != "caller-token" {
		t.Errorf("data clear = %d calls with token %q, want caller credential", data.calls, data.token)
	}
	if admin.calls != 1 || admin.userID != "user-1" {
		t.Errorf("admin delete = %d calls for %q", admin.calls, admin.userID)
	}
	want := []string{audit.ActionDataCleared, audit.ActionIdentityDeleted}
	if len(auditor.actions) != 2 || auditor.actions[0] != want[0] || auditor.actions[1] != want[1] {
		t.Errorf("audit actions = %v, want %v", auditor.actions, want)
	}
}

func TestDeletionStepOneFailureAborts(t *testing.T) {
	data := &fakeDataStore{err: errors.New("rpc failed")}
	admin := &fakeAdmin{}
	b := NewDeletionBroker(data, admin, nil)

	if err := b.DeleteAccount(context.Background(), "user-1", "caller-token"); err == nil {
		t.Fatal("expected step-1 failure to surface")
	}
	if admin.calls != 0 {
		t.Error("identity deleted despite data-clear failure")
	}
}

func TestDeletionStepTwoFailureIsAcceptedResidual(t *testing.T) {
	data := &fakeDataStore{}
	admin := &fakeAdmin{err: errors.New("admin api down")}
	auditor := &recordingAuditor{}
	b := NewDeletionBroker(data, admin, auditor)

	if err := b.DeleteAccount(context.Background(), "user-1", "caller-token"); err != nil {
		t.Fatalf("step-2 failure must not surface, got %v", err)
	}
	if len(auditor.actions) != 1 || auditor.actions[0] != audit.ActionDataCleared {
		t.Errorf("audit actions = %v, want only data-cleared", auditor.actions)
	}
}
