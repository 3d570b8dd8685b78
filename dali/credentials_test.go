package dali

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func testSessionToken(t *testing.T, claims gojwt.MapClaims) string {
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)
	return token
}

func TestParseSessionToken(t *testing.T) {
	expiresAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	token := testSessionToken(t, gojwt.MapClaims{
		"id":  "m1",
		"exp": expiresAt.Unix(),
	})

	claims, err := ParseSessionTokenUnverified(token)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.MemberId, "m1")
	assert.Equal(t, claims.ExpiresAt.Equal(expiresAt), true)

	claims, err = ParseSessionTokenUnverified(testSessionToken(t, gojwt.MapClaims{
		"sub": "m2",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.MemberId, "m2")
	assert.Equal(t, claims.ExpiresAt.IsZero(), true)

	_, err = ParseSessionTokenUnverified("not a jwt")
	assert.NotEqual(t, err, nil)
}

func TestCredentialsHasSession(t *testing.T) {
	now := time.Now()
	credentials := NewCredentials("")
	assert.Equal(t, credentials.HasSession(now), false)

	member := &Member{Id: "m1", FullName: "Test Member", Email: "m1@test"}
	credentials.SetSession(testSessionToken(t, gojwt.MapClaims{
		"id":  "m1",
		"exp": now.Add(time.Hour).Unix(),
	}), member)
	assert.Equal(t, credentials.HasSession(now), true)
	assert.Equal(t, credentials.HasSession(now.Add(2*time.Hour)), false)

	// opaque tokens do not expire client side
	credentials.SetSession("opaque", member)
	assert.Equal(t, credentials.HasSession(now.Add(24*time.Hour)), true)

	credentials.ClearSession()
	assert.Equal(t, credentials.HasSession(now), false)
	assert.Equal(t, credentials.Member() == nil, true)
}

func TestCredentialsHeader(t *testing.T) {
	credentials := NewCredentials("")
	name, _ := credentials.Header()
	assert.Equal(t, name, "")
	assert.Equal(t, *credentials.SocketAuth(), SocketAuth{})

	credentials = NewCredentials("key")
	name, value := credentials.Header()
	assert.Equal(t, name, "apiKey")
	assert.Equal(t, value, "key")
	assert.Equal(t, *credentials.SocketAuth(), SocketAuth{ApiKey: "key"})

	member := &Member{Id: "a1", FullName: "Test Admin", Email: "a1@test", IsAdmin: true}
	credentials.SetSession("token", member)
	name, value = credentials.Header()
	assert.Equal(t, name, "authorization")
	assert.Equal(t, value, "token")
	assert.Equal(t, *credentials.SocketAuth(), SocketAuth{Token: "token"})

	admin, err := credentials.RequireAdmin()
	assert.Equal(t, err, nil)
	assert.Equal(t, admin.Id, "a1")

	credentials.ClearSession()
	name, _ = credentials.Header()
	assert.Equal(t, name, "apiKey")
	_, err = credentials.RequireMember()
	assert.Equal(t, err, ErrSignInRequired)
}
