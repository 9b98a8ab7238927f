// Package firestore stores call records, conversations and presence in Cloud
// Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"skillswap-backend/internal/domain"
)

const (
	callsCollection    = "calls"
	chatsCollection    = "privateChats"
	messagesCollection = "messages"
	statusCollection   = "status"
)

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// wrap annotates err and maps a revoked read or write to
// domain.ErrPermissionDenied
func wrap(op string, err error) error {
	if status.Code(err) == codes.PermissionDenied {
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// stopped reports whether an iterator error only reflects the watch ending
func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled)
}
