package rpc

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authenticator validates Authorization headers on mutating methods. A
// static bearer token and an HS256 JWT secret can be configured
// together; a request passes if either credential verifies.
type authenticator struct {
	bearerToken string
	jwtSecret   []byte
}

func newAuthenticator(bearerToken string, jwtSecret []byte) *authenticator {
	return &authenticator{
		bearerToken: strings.TrimSpace(bearerToken),
		jwtSecret:   jwtSecret,
	}
}

func (a *authenticator) configured() bool {
	return a.bearerToken != "" || len(a.jwtSecret) > 0
}

func (a *authenticator) authenticate(r *http.Request) *RPCError {
	if !a.configured() {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if a.bearerToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) == 1 {
		return nil
	}
	if len(a.jwtSecret) > 0 && a.verifyJWT(token) == nil {
		return nil
	}
	return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
}

func (a *authenticator) verifyJWT(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
