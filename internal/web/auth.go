package web

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/makt28/stockwatch/internal/config"
)

// LoginRateLimiter tracks failed login attempts per IP.
type LoginRateLimiter struct {
	mu              sync.Mutex
	attempts        map[string]*loginAttempt
	maxAttempts     int
	lockoutDuration time.Duration
	now             func() time.Time
}

type loginAttempt struct {
	failCount int
	lockedAt  time.Time
}

func NewLoginRateLimiter(maxAttempts int, lockoutSeconds int, stopCh <-chan struct{}) *LoginRateLimiter {
	rl := &LoginRateLimiter{
		attempts:        make(map[string]*loginAttempt),
		maxAttempts:     maxAttempts,
		lockoutDuration: time.Duration(lockoutSeconds) * time.Second,
		now:             time.Now,
	}
	if stopCh != nil {
		go rl.cleanup(stopCh)
	}
	return rl
}

// IsLocked returns true if the IP is currently locked out.
func (rl *LoginRateLimiter) IsLocked(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	a, ok := rl.attempts[ip]
	if !ok || a.failCount < rl.maxAttempts {
		return false
	}
	if rl.now().Sub(a.lockedAt) < rl.lockoutDuration {
		return true
	}
	// Lockout expired, reset
	delete(rl.attempts, ip)
	return false
}

// RecordFailure increments the failure count for an IP.
func (rl *LoginRateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	a, ok := rl.attempts[ip]
	if !ok {
		a = &loginAttempt{}
		rl.attempts[ip] = a
	}
	a.failCount++
	if a.failCount >= rl.maxAttempts {
		a.lockedAt = rl.now()
	}
}

// ClearIP removes the failure record for an IP on successful login.
func (rl *LoginRateLimiter) ClearIP(ip string) {
	rl.mu.Lock()
	delete(rl.attempts, ip)
	rl.mu.Unlock()
}

func (rl *LoginRateLimiter) cleanup(stopCh <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, a := range rl.attempts {
				if rl.now().Sub(a.lockedAt) >= rl.lockoutDuration {
					delete(rl.attempts, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// checkCredentials compares basic auth credentials against the API config.
func checkCredentials(cfg config.APIConfig, username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(password)) == nil
}

// HashPassword returns a bcrypt hash suitable for api.password_hash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
