package dali

import (
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// The credential source for requests and channel authentication.
// A session token, when present, takes precedence over the api key.
type Credentials struct {
	stateLock sync.Mutex

	apiKey string
	token  string
	member *Member
}

func NewCredentials(apiKey string) *Credentials {
	return &Credentials{
		apiKey: apiKey,
	}
}

func (self *Credentials) SetSession(token string, member *Member) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.token = token
	self.member = member
}

func (self *Credentials) ClearSession() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.token = ""
	self.member = nil
}

func (self *Credentials) Token() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.token
}

func (self *Credentials) ApiKey() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.apiKey
}

func (self *Credentials) Member() *Member {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.member
}

// the request header for the current credential. Returns empty if there is no credential.
func (self *Credentials) Header() (name string, value string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.token != "" {
		return "authorization", self.token
	} else if self.apiKey != "" {
		return "apiKey", self.apiKey
	}
	return "", ""
}

// payload of the channel `authenticate` message
func (self *Credentials) SocketAuth() *SocketAuth {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.token != "" {
		return &SocketAuth{Token: self.token}
	}
	return &SocketAuth{ApiKey: self.apiKey}
}

func (self *Credentials) RequireMember() (*Member, error) {
	member := self.Member()
	if member == nil {
		return nil, ErrSignInRequired
	}
	return member, nil
}

func (self *Credentials) RequireAdmin() (*Member, error) {
	member, err := self.RequireMember()
	if err != nil {
		return nil, err
	}
	if !member.IsAdmin {
		return nil, ErrAdminRequired
	}
	return member, nil
}

// a session exists and its token has not expired.
// Tokens that are not jwts, or have no expiry, do not expire client side.
func (self *Credentials) HasSession(now time.Time) bool {
	token := self.Token()
	if token == "" {
		return false
	}
	claims, err := ParseSessionTokenUnverified(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(claims.ExpiresAt)
}

type SocketAuth struct {
	Token  string `json:"token,omitempty"`
	ApiKey string `json:"apiKey,omitempty"`
}

type SessionClaims struct {
	MemberId  string
	ExpiresAt time.Time
}

// reads the claims of a session token without verifying the signature.
// The server is the authority for the token; this is only used for client side hints.
func ParseSessionTokenUnverified(token string) (*SessionClaims, error) {
	parser := gojwt.NewParser()
	jwt, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := jwt.Claims.(gojwt.MapClaims)

	sessionClaims := &SessionClaims{}
	if memberId, ok := claims["id"].(string); ok {
		sessionClaims.MemberId = memberId
	} else if sub, err := claims.GetSubject(); err == nil {
		sessionClaims.MemberId = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		sessionClaims.ExpiresAt = exp.Time
	}
	return sessionClaims, nil
}
