package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Role distinguishes the sale owner from ordinary credit holders.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleHolder Role = "holder"
)

var (
	// ErrBadCredentials rejects an owner token request with the wrong account or key.
	ErrBadCredentials = errors.New("invalid owner credentials")
	// ErrOwnerLoginDisabled is returned when no owner key hash is configured.
	ErrOwnerLoginDisabled = errors.New("owner login disabled")
	// ErrInvalidAccount rejects a holder token request without an account.
	ErrInvalidAccount = errors.New("account is required")
)

// Service issues and verifies caller tokens.
type Service struct {
	owner   string
	keyHash []byte
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewService builds a token service. keyHash is the bcrypt hash of the owner key.
func NewService(owner, keyHash, secret string, ttl time.Duration) *Service {
	return &Service{owner: owner, keyHash: []byte(keyHash), secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Token is the issued bearer token.
type Token struct {
	AccessToken string `json:"access_token"`
	Subject     string `json:"subject"`
	Role        Role   `json:"role"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Owner returns the configured owner account.
func (s *Service) Owner() string {
	return s.owner
}

// IssueOwner checks the owner key and issues an owner token.
func (s *Service) IssueOwner(account, key string) (Token, error) {
	if len(s.keyHash) == 0 {
		return Token{}, ErrOwnerLoginDisabled
	}
	if account != s.owner {
		return Token{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.keyHash, []byte(key)); err != nil {
		return Token{}, ErrBadCredentials
	}
	return s.issue(account, RoleOwner)
}

// IssueHolder issues a holder token for account. Callers must already be authorized as owner.
func (s *Service) IssueHolder(account string) (Token, error) {
	if account == "" {
		return Token{}, ErrInvalidAccount
	}
	role := RoleHolder
	if account == s.owner {
		role = RoleOwner
	}
	return s.issue(account, role)
}

// Verify parses a bearer token.
func (s *Service) Verify(token string) (Claims, error) {
	return ParseAndVerifyHS256(token, s.secret, s.now())
}

func (s *Service) issue(subject string, role Role) (Token, error) {
	now := s.now()
	claims := Claims{
		Subject:   subject,
		Role:      role,
		ID:        uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	signed, err := SignHS256(claims, s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, Subject: subject, Role: role, ExpiresIn: int64(s.ttl.Seconds())}, nil
}
