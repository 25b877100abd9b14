package service

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid user name, email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("refresh token has been revoked")
	ErrInvalidInput       = errors.New("invalid input")
)
