package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrMissingToken indicates the request carried no bearer token.
var ErrMissingToken = errors.New("auth: token required")

const bearerPrefix = "bearer "

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// ValidateRequest extracts the bearer token of the request and validates it.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (Principal, error) {
	token, err := BearerToken(r)
	if err != nil {
		return Principal{}, err
	}
	return i.ValidateToken(token)
}
