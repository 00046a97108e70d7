package session

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
)

// parseMemberToken validates the venue auth service's member token and
// returns the user id carried in its subject.
func (s *Store) parseMemberToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "member token required")
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(s.jwt.Secret), nil
	}, jwt.WithIssuer(s.jwt.Issuer))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid member token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "member token missing subject")
	}
	return claims.Subject, nil
}
