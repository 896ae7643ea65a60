package plugins

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/engramdb/engram/internal/logger"
)

// ErrAuthFailed is returned for bad credentials and invalid tokens. The
// caller must not distinguish unknown users from wrong passwords.
var ErrAuthFailed = errors.New("authentication failed")

// UserProvider authenticates frontend clients.
type UserProvider interface {
	Authenticate(ctx context.Context, username, password string) error
}

const staticUserProviderScheme = "static_user_provider"

// NewUserProvider parses a provider spec of the form
// "static_user_provider:file=<path>" or "static_user_provider:cmd=u=p[,u=p...]"
// and builds the provider it names.
func NewUserProvider(spec string) (UserProvider, error) {
	scheme, rest, ok := strings.Cut(spec, ":")
	if !ok || scheme != staticUserProviderScheme {
		return nil, fmt.Errorf("unsupported user provider %q", spec)
	}
	source, value, ok := strings.Cut(rest, "=")
	if !ok {
		return nil, fmt.Errorf("malformed user provider spec %q", spec)
	}
	switch source {
	case "file":
		return NewStaticUserProviderFromFile(value)
	case "cmd":
		return NewStaticUserProviderFromPairs(value)
	default:
		return nil, fmt.Errorf("unknown user provider source %q", source)
	}
}

// StaticUserProvider authenticates against a fixed user/password table.
type StaticUserProvider struct {
	users map[string]string
}

// NewStaticUserProviderFromFile loads "user=password" lines from a file.
// Blank lines and lines starting with '#' are ignored.
func NewStaticUserProviderFromFile(path string) (*StaticUserProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open user file: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, pass, ok := strings.Cut(line, "=")
		if !ok || user == "" {
			return nil, fmt.Errorf("malformed user entry %q in %s", line, path)
		}
		users[user] = pass
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user file: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user file %s defines no users", path)
	}

	logger.Info("static user provider loaded", "users", len(users), "source", path)
	return &StaticUserProvider{users: users}, nil
}

// NewStaticUserProviderFromPairs parses inline "u1=p1,u2=p2" pairs.
func NewStaticUserProviderFromPairs(pairs string) (*StaticUserProvider, error) {
	users := make(map[string]string)
	for _, pair := range strings.Split(pairs, ",") {
		user, pass, ok := strings.Cut(pair, "=")
		if !ok || user == "" {
			return nil, fmt.Errorf("malformed user entry %q", pair)
		}
		users[user] = pass
	}
	if len(users) == 0 {
		return nil, errors.New("user provider spec defines no users")
	}
	return &StaticUserProvider{users: users}, nil
}

func (p *StaticUserProvider) Authenticate(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want, ok := p.users[username]
	if !ok {
		return ErrAuthFailed
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return ErrAuthFailed
	}
	return nil
}

// TokenIssuer mints and verifies the short-lived bearer tokens the HTTP API
// hands out after a successful basic-auth login. The signing key is
// generated per process; tokens do not survive restarts.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer generates a fresh HS256 signing key.
func NewTokenIssuer(ttl time.Duration) (*TokenIssuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: secret, ttl: ttl}, nil
}

// Issue returns a signed token for the user.
func (t *TokenIssuer) Issue(username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	})
	return token.SignedString(t.secret)
}

// Verify checks the token and returns the subject it was issued to.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrAuthFailed
	}
	claims := token.Claims.(*jwt.RegisteredClaims)
	return claims.Subject, nil
}

// SetupFrontend installs the frontend-side plugins selected by the
// configuration: the user provider, when one is configured, and its token
// issuer.
func SetupFrontend(p *Plugins, userProviderSpec string) error {
	if userProviderSpec == "" {
		return nil
	}
	provider, err := NewUserProvider(userProviderSpec)
	if err != nil {
		return err
	}
	issuer, err := NewTokenIssuer(0)
	if err != nil {
		return err
	}
	Insert[UserProvider](p, provider)
	Insert(p, issuer)
	return nil
}
