package agent

import (
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/BaSui01/leagueflow/protocol"
)

const (
	// MaxDisplayNameLength caps sanitized display names.
	MaxDisplayNameLength = 50

	defaultTokenTTL = 24 * time.Hour
)

// TokenAuthority mints and verifies HMAC-signed agent tokens. The
// coordinator holds the only instance; agents just carry the opaque
// token string.
type TokenAuthority struct {
	secret   []byte
	leagueID string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenAuthority creates an authority signing with the given secret.
func NewTokenAuthority(secret []byte, leagueID string) *TokenAuthority {
	return &TokenAuthority{
		secret:   secret,
		leagueID: leagueID,
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
}

type tokenClaims struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Mint issues a token for a registered agent.
func (a *TokenAuthority) Mint(agentID string, role protocol.Role) (string, error) {
	now := a.now()
	claims := tokenClaims{
		AgentID: agentID,
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.leagueID,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token and returns the agent id it was minted for.
// A missing token maps to E011, anything else invalid to E012.
func (a *TokenAuthority) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", protocol.NewError(protocol.CodeAuthTokenMissing, "auth token required")
	}

	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithIssuer(a.leagueID))
	if err != nil || !token.Valid {
		return "", protocol.NewError(protocol.CodeAuthTokenInvalid, "auth token invalid").WithCause(err)
	}
	return claims.AgentID, nil
}

// VerifyFor checks the token and that it belongs to the expected agent.
func (a *TokenAuthority) VerifyFor(tokenString, expectedAgentID string) error {
	agentID, err := a.Verify(tokenString)
	if err != nil {
		return err
	}
	if agentID != expectedAgentID {
		return protocol.NewError(protocol.CodeAuthTokenInvalid, "auth token issued to a different agent")
	}
	return nil
}

// authRequiredKinds are the message kinds that must carry a valid token.
// Registration requests are exempt: the token is the registration's
// product.
var authRequiredKinds = map[protocol.Kind]bool{
	protocol.KindMatchInvitation:   true,
	protocol.KindMatchJoinAck:      true,
	protocol.KindChoiceCall:        true,
	protocol.KindChoiceResponse:    true,
	protocol.KindMatchOver:         true,
	protocol.KindMatchResultReport: true,
	protocol.KindLeagueQuery:       true,
}

// RequiresAuth reports whether a message kind must be authenticated.
func RequiresAuth(kind protocol.Kind) bool {
	return authRequiredKinds[kind]
}

// SenderLimiter rate-limits requests per sender using token buckets.
type SenderLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSenderLimiter allows maxRequests per window per sender.
func NewSenderLimiter(maxRequests int, window time.Duration) *SenderLimiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SenderLimiter{
		limit:    rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:    maxRequests,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a request from the sender may proceed now.
func (l *SenderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[sender]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[sender] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// SanitizeDisplayName escapes HTML, trims whitespace, and caps length.
func SanitizeDisplayName(name string) string {
	sanitized := html.EscapeString(strings.TrimSpace(name))
	if len(sanitized) > MaxDisplayNameLength {
		sanitized = sanitized[:MaxDisplayNameLength]
	}
	return sanitized
}
