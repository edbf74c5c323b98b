package runtime

import (
	"context"
	"log/slog"
	"os"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	gmailv1 "google.golang.org/api/gmail/v1"

	gc "mailflow/internal/gmail"
	"mailflow/internal/rate"
)

// NewGmailClient builds an authenticated client from the credential
// material under cfgDir. The pipeline mutates labels and trash state, so
// the modify scope is always requested.
func NewGmailClient(ctx context.Context, cfgDir string, limiter rate.Limiter) (gc.Client, error) {
	svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, cfgDir, gmailv1.GmailModifyScope)
	if err != nil {
		return nil, err
	}
	return NewGoogleAPIClient(svc, limiter), nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
