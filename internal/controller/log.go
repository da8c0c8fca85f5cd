package controller

import (
	"context"
	"log/slog"
)

func logInvalidPayload(ctx context.Context, messageType string, err error) {
	slog.WarnContext(ctx, "dropping invalid payload", "type", messageType, "error", err)
}
