package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/northpeak/invoice-tracker/internal/common"
)

// Credential is a bearer token with its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Authenticator mints credentials for the store. Implementations talk to
// the identity provider; tests hand back canned tokens.
type Authenticator interface {
	Acquire(ctx context.Context) (Credential, error)
}

// tokenSource caches a credential and refreshes it before expiry. All
// refreshes happen under the mutex, so concurrent callers crossing the
// margin trigger exactly one acquire.
type tokenSource struct {
	auth   Authenticator
	margin time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cred Credential
}

func newTokenSource(auth Authenticator, margin time.Duration, logger *slog.Logger) *tokenSource {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &tokenSource{auth: auth, margin: margin, logger: logger, now: time.Now}
}

// token returns a credential valid past the refresh margin, acquiring a
// fresh one when needed.
func (ts *tokenSource) token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cred.Token != "" && ts.now().Before(ts.cred.ExpiresAt.Add(-ts.margin)) {
		return ts.cred.Token, nil
	}

	cred, err := ts.auth.Acquire(ctx)
	if err != nil {
		ts.logger.Error("tracker.auth.error", "error", err)
		return "", common.WrapError(common.ErrCredential, "acquire store credential")
	}
	ts.cred = cred
	ts.logger.Info("tracker.auth.refreshed", "expires_at", cred.ExpiresAt)
	return cred.Token, nil
}

// invalidate drops the cached credential so the next call re-acquires.
func (ts *tokenSource) invalidate() {
	ts.mu.Lock()
	ts.cred = Credential{}
	ts.mu.Unlock()
}
