package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownPair       = errors.New("unknown currency pair")
	ErrInvalidTransition = errors.New("invalid position status transition")
	ErrDuplicatePosition = errors.New("duplicate position id")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
)
