package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrEmptyMessage    = fmt.Errorf("message is empty")
	ErrNotJoined       = fmt.Errorf("channel not joined yet")
	ErrNotAcknowledged = fmt.Errorf("message not acknowledged")
	ErrInvalidPayload  = fmt.Errorf("invalid payload")

	ErrChannelClosed    = fmt.Errorf("channel closed")
	ErrSocketClosed     = fmt.Errorf("socket closed")
	ErrPushTimeout      = fmt.Errorf("push timed out")
	ErrPushRejected     = fmt.Errorf("push rejected")
	ErrHeartbeatTimeout = fmt.Errorf("heartbeat timeout")

	ErrOAuthCallback   = fmt.Errorf("oauth callback failed")
	ErrSessionExpired  = fmt.Errorf("session expired")
	ErrMissingSession  = fmt.Errorf("no active session")
	ErrTokenExchange   = fmt.Errorf("token exchange failed")
	ErrInvalidProvider = fmt.Errorf("invalid oauth provider")

	ErrEmptyQuery     = fmt.Errorf("search query is empty")
	ErrUnknownCommand = fmt.Errorf("unknown command")
)
