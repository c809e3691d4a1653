package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AuthStore abstracts persistence operations required by AuthService.
type AuthStore interface {
	FindUserByEmail(email string) (*User, error)
	AddUser(u *User) error
	GetUser(id string) (*User, error)
	// AddDeviceToken fails with a conflict error when the token is already
	// registered.
	AddDeviceToken(t *DeviceToken) error
}

// TokenSigner issues a bearer token for a user id. Wired to the JWT middleware.
type TokenSigner func(uid string, admin bool, ttl time.Duration) (string, error)

type AuthResult struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// AuthService issues identities: administrator accounts for the management API and
// anonymous participant accounts for respondents, plus device registrations for
// the reminder broadcast.
type AuthService struct {
	store     AuthStore
	now       func() time.Time
	idGen     func() string
	signToken TokenSigner
	adminTTL  time.Duration
	userTTL   time.Duration
}

func NewAuthService(store AuthStore, signer TokenSigner) *AuthService {
	return &AuthService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
		signToken: signer,
		adminTTL:  24 * time.Hour,
		userTTL:   365 * 24 * time.Hour,
	}
}

func (s *AuthService) Register(email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	existing, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("email exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &User{ID: s.idGen(), Email: email, PassHash: hash, CreatedAt: s.now()}
	if err := s.store.AddUser(user); err != nil {
		return nil, err
	}
	token, err := s.signToken(user.ID, true, s.adminTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: user.ID}, nil
}

func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	user, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil || len(user.PassHash) == 0 {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	token, err := s.signToken(user.ID, true, s.adminTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: user.ID}, nil
}

// RegisterParticipant creates an anonymous respondent and hands out a long-lived
// bearer token for it.
func (s *AuthService) RegisterParticipant() (*AuthResult, error) {
	user := &User{ID: s.idGen(), CreatedAt: s.now()}
	if err := s.store.AddUser(user); err != nil {
		return nil, err
	}
	token, err := s.signToken(user.ID, false, s.userTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: user.ID}, nil
}

// RegisterDevice stores a push token for the user. Re-registering the same token
// is idempotent.
func (s *AuthService) RegisterDevice(userID, token string) (*DeviceToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, NewInvalidError("device token required")
	}
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NewNotFoundError("no such user: " + userID)
	}

	device := &DeviceToken{
		ID:        s.idGen(),
		UserID:    userID,
		Token:     token,
		CreatedAt: s.now(),
	}
	if err := s.store.AddDeviceToken(device); err != nil {
		if IsConflict(err) {
			return device, nil
		}
		return nil, err
	}
	return device, nil
}
