package services

import (
	"fmt"
	"testing"
	"time"
)

type stubAuthStore struct {
	users   map[string]*User
	byEmail map[string]*User
	devices map[string]*DeviceToken
}

func newStubAuthStore() *stubAuthStore {
	return &stubAuthStore{
		users:   map[string]*User{},
		byEmail: map[string]*User{},
		devices: map[string]*DeviceToken{},
	}
}

func (s *stubAuthStore) FindUserByEmail(email string) (*User, error) {
	return s.byEmail[email], nil
}

func (s *stubAuthStore) AddUser(u *User) error {
	if u.Email != "" {
		if _, ok := s.byEmail[u.Email]; ok {
			return NewConflictError("email exists")
		}
		s.byEmail[u.Email] = u
	}
	s.users[u.ID] = u
	return nil
}

func (s *stubAuthStore) GetUser(id string) (*User, error) {
	return s.users[id], nil
}

func (s *stubAuthStore) AddDeviceToken(t *DeviceToken) error {
	if _, ok := s.devices[t.Token]; ok {
		return NewConflictError("device token exists")
	}
	s.devices[t.Token] = t
	return nil
}

func testSigner(uid string, admin bool, ttl time.Duration) (string, error) {
	return fmt.Sprintf("%s|admin=%t|%s", uid, admin, ttl), nil
}

func TestRegisterAndLogin(t *testing.T) {
	store := newStubAuthStore()
	svc := NewAuthService(store, testSigner)

	res, err := svc.Register("admin@example.org", "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Token == "" || res.UserID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	user := store.byEmail["admin@example.org"]
	if user == nil || len(user.PassHash) == 0 {
		t.Fatal("password hash not stored")
	}

	login, err := svc.Login("admin@example.org", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.UserID != res.UserID {
		t.Fatalf("login resolved a different user: %s vs %s", login.UserID, res.UserID)
	}

	_, err = svc.Login("admin@example.org", "wrong")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newStubAuthStore()
	svc := NewAuthService(store, testSigner)
	if _, err := svc.Register("admin@example.org", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register("admin@example.org", "other")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLoginAnonymousUserRejected(t *testing.T) {
	store := newStubAuthStore()
	svc := NewAuthService(store, testSigner)

	// Participants have no password hash and must never pass the admin login.
	res, err := svc.RegisterParticipant()
	if err != nil {
		t.Fatalf("RegisterParticipant: %v", err)
	}
	participant := store.users[res.UserID]
	participant.Email = "sneaky@example.org"
	store.byEmail[participant.Email] = participant

	_, err = svc.Login("sneaky@example.org", "")
	se, ok := AsServiceError(err)
	if !ok || (se.Code != ErrorUnauthorized && se.Code != ErrorInvalid) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestRegisterParticipant(t *testing.T) {
	store := newStubAuthStore()
	svc := NewAuthService(store, testSigner)

	res, err := svc.RegisterParticipant()
	if err != nil {
		t.Fatalf("RegisterParticipant: %v", err)
	}
	user := store.users[res.UserID]
	if user == nil {
		t.Fatal("participant not stored")
	}
	if user.Email != "" || len(user.PassHash) != 0 {
		t.Fatalf("participant must be anonymous: %+v", user)
	}
}

func TestRegisterDeviceIdempotent(t *testing.T) {
	store := newStubAuthStore()
	svc := NewAuthService(store, testSigner)

	res, err := svc.RegisterParticipant()
	if err != nil {
		t.Fatalf("RegisterParticipant: %v", err)
	}

	first, err := svc.RegisterDevice(res.UserID, "push-token-1")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if first.Token != "push-token-1" {
		t.Fatalf("unexpected device: %+v", first)
	}

	// Same token again: the conflict is swallowed.
	if _, err := svc.RegisterDevice(res.UserID, "push-token-1"); err != nil {
		t.Fatalf("re-registration must be idempotent: %v", err)
	}
	if len(store.devices) != 1 {
		t.Fatalf("expected one stored device, got %d", len(store.devices))
	}
}

func TestRegisterDeviceUnknownUser(t *testing.T) {
	store := newStubAuthStore()
	svc := NewAuthService(store, testSigner)
	_, err := svc.RegisterDevice("nobody", "push-token-1")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
