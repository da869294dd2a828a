package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// userHeader names the caller when a trusted proxy has authenticated it.
const userHeader = "X-User-ID"

const (
	tokenIssuer = "kappi"
	// DefaultTokenTTL matches the lifetime of tokens issued by the mobile backend.
	DefaultTokenTTL = 7 * 24 * time.Hour
)

// AuthConfig selects how the owner of a scan history is identified.
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens. The token subject is the user.
	JWTSecret string
	// TrustUserHeader accepts the user field and the X-User-ID header as
	// given. Enable it only behind a proxy that authenticates callers and
	// overwrites the header.
	TrustUserHeader bool
}

var (
	errNoIdentity    = errors.New("authentication required")
	errInvalidToken  = errors.New("invalid or expired token")
	errForbiddenUser = errors.New("token does not grant access to this user")
)

// identity is who sent a request. verified is set for token holders only.
type identity struct {
	user     string
	verified bool
}

// IssueToken signs a bearer token for user.
func IssueToken(secret, user string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return "", errors.New("user is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// requestIdentity reads the bearer token or, failing that, the user header.
// A token that does not verify is an error even in trusted mode.
func (s *Server) requestIdentity(r *http.Request) (identity, error) {
	if raw, ok := bearerToken(r); ok && s.auth.JWTSecret != "" {
		user, err := parseToken(s.auth.JWTSecret, raw)
		if err != nil {
			s.logger.Debug("rejected bearer token", "error", err)
			return identity{}, errInvalidToken
		}
		return identity{user: user, verified: true}, nil
	}
	return identity{user: strings.TrimSpace(r.Header.Get(userHeader))}, nil
}

// resolveUser decides which history a request may touch. claimed is the
// user the request names itself. An empty result with a nil error means the
// request is anonymous.
func (s *Server) resolveUser(id identity, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	switch {
	case id.verified:
		if claimed != "" && claimed != id.user {
			return "", errForbiddenUser
		}
		return id.user, nil
	case s.auth.TrustUserHeader:
		if claimed != "" {
			return claimed, nil
		}
		return id.user, nil
	case claimed != "" || id.user != "":
		return "", errNoIdentity
	}
	return "", nil
}

func (s *Server) identify(r *http.Request, claimed string) (string, error) {
	id, err := s.requestIdentity(r)
	if err != nil {
		return "", err
	}
	return s.resolveUser(id, claimed)
}

// authErrorCode maps an identification failure onto a code and status.
func authErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, errForbiddenUser):
		return "FORBIDDEN", http.StatusForbidden
	case errors.Is(err, errInvalidToken):
		return "INVALID_TOKEN", http.StatusUnauthorized
	default:
		return "UNAUTHENTICATED", http.StatusUnauthorized
	}
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	code, status := authErrorCode(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="kappi"`)
	}
	s.writeErrorResponse(w, err.Error(), code, status)
}
