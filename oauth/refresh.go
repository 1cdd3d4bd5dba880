// Package oauth keeps the bot account's chat token fresh. The token row
// lives in the oauth_tokens table; a background goroutine refreshes it when
// its remaining lifetime falls inside the configured window. Checks are
// jittered so multiple instances sharing a database don't stampede the
// token endpoint.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	dbpkg "github.com/patchbay-tv/chatbot/db"
	"github.com/patchbay-tv/chatbot/twitchapi"
)

// Provider is the oauth_tokens row key for the bot's chat account.
const Provider = "twitch"

// StartRefresher launches the refresh goroutine. interval is how often to
// wake and check; window is the remaining lifetime that triggers a refresh.
func StartRefresher(ctx context.Context, dbx *sql.DB, clientID, clientSecret string, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresh"))
	go func() {
		//nolint:gosec // G404: jitter only, not security sensitive
		initial := time.Duration(rand.Int63n(int64(interval / 2)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(initial):
		}
		for {
			checkOnce(ctx, dbx, clientID, clientSecret, window, log)
			//nolint:gosec // G404: jitter only, not security sensitive
			jitter := time.Duration(rand.Int63n(int64(interval/5))*2) - interval/5
			sleep := interval + jitter
			if sleep < interval/2 {
				sleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
		}
	}()
}

func checkOnce(ctx context.Context, dbx *sql.DB, clientID, clientSecret string, window time.Duration, log *slog.Logger) {
	_, refresh, expiry, scope, err := dbpkg.GetOAuthToken(ctx, dbx, Provider)
	if err != nil {
		// No stored token is normal when the operator passes a static
		// TWITCH_OAUTH_TOKEN; nothing to refresh.
		return
	}
	if refresh == "" || time.Until(expiry) > window {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	tok, err := twitchapi.RefreshUserToken(reqCtx, clientID, clientSecret, refresh, "")
	cancel()
	if err != nil {
		log.Warn("chat token refresh failed", slog.Any("err", err))
		return
	}
	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refresh
	}
	if err := dbpkg.UpsertOAuthToken(ctx, dbx, Provider, tok.AccessToken, newRefresh, tok.Expiry, scope); err != nil {
		log.Warn("persisting refreshed token failed", slog.Any("err", err))
		return
	}
	log.Info("chat token refreshed", slog.Time("expires_at", tok.Expiry))
}
