package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConnectivity marks network-class failures: unreachable host,
	// timeout, or a 5xx from the server. Retryable; the sync engine halts
	// the drain and keeps the entry.
	ErrConnectivity = errors.New("connectivity error")

	// ErrLockConflict means the server reports a different executor than
	// expected. A correctness signal, never retried.
	ErrLockConflict = errors.New("execution lock held by another user")

	// ErrValidation marks a request the server rejected as malformed, e.g.
	// a since-deleted work order. Not retryable; queued entries carrying it
	// are dropped after logging.
	ErrValidation = errors.New("request rejected by server")

	// ErrRequiresConnectivity is returned for actions that are never queued
	// (start execution, delete attachment) when the device is offline.
	ErrRequiresConnectivity = errors.New("action requires live connectivity")
)

// LockConflictError carries the holder's identity where the server reports it.
type LockConflictError struct {
	WorkOrderID string
	HolderID    string
	HolderName  string
}

func (e *LockConflictError) Error() string {
	if e.HolderName != "" {
		return fmt.Sprintf("work order %s is being executed by %s", e.WorkOrderID, e.HolderName)
	}
	return fmt.Sprintf("work order %s is being executed by another user", e.WorkOrderID)
}

func (e *LockConflictError) Unwrap() error { return ErrLockConflict }

func classifyStatus(code int) error {
	switch {
	case code == 409:
		return ErrLockConflict
	case code >= 500:
		return ErrConnectivity
	case code >= 400:
		return ErrValidation
	default:
		return nil
	}
}

// classifyTransport maps transport-level failures onto the taxonomy.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	// Connection refused, DNS failure and friends arrive as *url.Error
	// wrapping an *net.OpError; treat anything transport-level as retryable.
	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}
