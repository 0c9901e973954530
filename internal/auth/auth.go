package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrBadToken = errors.New("invalid token")

const (
	RoleAdmin   = "Admin"
	RoleDoctor  = "Doctor"
	RolePatient = "Patient"
)

// claim keys the backend may use, ASP.NET first
var (
	roleKeys = []string{
		"http://schemas.microsoft.com/ws/2008/06/identity/claims/role",
		"role",
		"roles",
	}
	idKeys = []string{
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
		"nameid",
		"uid",
		"sub",
	}
	emailKeys = []string{
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
		"email",
	}
)

type Claims struct {
	UserID    string
	Email     string
	Roles     []string
	ExpiresAt time.Time
}

// Role is the primary role used for gating.
func (c *Claims) Role() string {
	if len(c.Roles) == 0 {
		return ""
	}
	return c.Roles[0]
}

func (c *Claims) HasRole(roles ...string) bool {
	for _, have := range c.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Decode reads the claims of a backend token without checking its signature.
// The backend issued it; the device owner is trusted not to forge one.
func Decode(raw string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return nil, ErrBadToken
	}
	return fromMap(mc)
}

// Verify parses an HS256 token signed with secret and checks its expiry.
func Verify(raw, secret string) (*Claims, error) {
	mc := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, mc, func(t *jwt.Token) (any, error) {
		// block alg confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadToken
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrBadToken
	}
	return fromMap(mc)
}

// MakeToken issues an HS256 token carrying the claim layout the backend uses.
func MakeToken(uid, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	mc := jwt.MapClaims{
		idKeys[0]:   uid,
		roleKeys[0]: role,
		"iat":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString([]byte(secret))
}

func fromMap(mc jwt.MapClaims) (*Claims, error) {
	c := &Claims{
		UserID: firstString(mc, idKeys),
		Email:  firstString(mc, emailKeys),
	}
	for _, k := range roleKeys {
		if v, ok := mc[k]; ok {
			c.Roles = toStrings(v)
			break
		}
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if c.UserID == "" {
		return nil, ErrBadToken
	}
	return c, nil
}

func firstString(mc jwt.MapClaims, keys []string) string {
	for _, k := range keys {
		if s, ok := mc[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
