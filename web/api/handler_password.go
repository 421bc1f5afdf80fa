package api

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/afumu/barlens/web/transport"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// PasswordManager holds the bcrypt hash guarding the control routes and
// the tokens issued after a successful verify.
type PasswordManager struct {
	hash string

	mu       sync.Mutex
	sessions map[string]bool
}

func NewPasswordManager(hash string) *PasswordManager {
	return &PasswordManager{
		hash:     hash,
		sessions: make(map[string]bool),
	}
}

// Enabled reports whether a password is configured.
func (pm *PasswordManager) Enabled() bool {
	return pm.hash != ""
}

func (pm *PasswordManager) Check(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(pm.hash), []byte(password)) == nil
}

func (pm *PasswordManager) generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (pm *PasswordManager) AddSession(token string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.sessions[token] = true
}

func (pm *PasswordManager) IsValidSession(token string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.sessions[token]
}

func (pm *PasswordManager) ClearSessions() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.sessions = make(map[string]bool)
}

// Token extracts the auth token from the header or the cookie.
func Token(c *gin.Context) string {
	token := c.GetHeader("X-Auth-Token")
	if token == "" {
		token, _ = c.Cookie("auth_token")
	}
	return token
}

func (a *API) GetPasswordStatus(c *gin.Context) {
	enabled := a.Password.Enabled()
	transport.SendSuccess(c, gin.H{
		"enabled":   enabled,
		"is_locked": enabled && !a.Password.IsValidSession(Token(c)),
	})
}

// VerifyPassword exchanges the password for a session token.
func (a *API) VerifyPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		transport.BadRequest(c, "invalid request body")
		return
	}
	if !a.Password.Enabled() {
		transport.BadRequest(c, "no password configured")
		return
	}
	if !a.Password.Check(req.Password) {
		transport.Unauthorized(c, "wrong password")
		return
	}

	token, err := a.Password.generateToken()
	if err != nil {
		transport.InternalServerError(c, "could not create session")
		return
	}
	a.Password.AddSession(token)
	c.SetCookie("auth_token", token, 86400, "/", "", false, true)

	transport.SendSuccess(c, gin.H{
		"status": "unlocked",
		"token":  token,
	})
}
