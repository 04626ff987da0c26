package auth

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vionhq/vion/internal/config"
)

type account struct {
	passwordHash string
	role         string
}

// Service authenticates operator accounts. Accounts are seeded from
// configuration; password resets apply in memory until the config is
// updated.
type Service struct {
	secret    string
	expiresIn time.Duration
	logger    *slog.Logger

	mu       sync.RWMutex
	accounts map[string]account
}

func NewService(log *slog.Logger, cfg config.AuthConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	expiresIn, err := time.ParseDuration(cfg.JWTExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	s := &Service{
		secret:    cfg.JWTSecret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("service", "auth")),
		accounts:  make(map[string]account),
	}
	if cfg.AdminUsername != "" && cfg.AdminPasswordHash != "" {
		s.accounts[cfg.AdminUsername] = account{passwordHash: cfg.AdminPasswordHash, role: RoleAdmin}
	}
	return s
}

// Login checks credentials and issues a token.
func (s *Service) Login(username, password string) (string, time.Time, error) {
	s.mu.RLock()
	acct, ok := s.accounts[username]
	s.mu.RUnlock()
	if !ok || !CheckPassword(acct.passwordHash, password) {
		return "", time.Time{}, fmt.Errorf("invalid credentials")
	}
	return GenerateToken(username, acct.role, s.secret, s.expiresIn)
}

// ResetPassword replaces an operator's password. Unknown accounts are
// created with the agent role so admins can provision agents.
func (s *Service) ResetPassword(username, newPassword string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	if !ok {
		acct = account{role: RoleAgent}
	}
	acct.passwordHash = hash
	s.accounts[username] = acct
	s.logger.Info("password reset", slog.String("username", username))
	return nil
}
