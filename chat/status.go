package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/twitchapi"
)

// StartStatusPoller polls Helix for the channel's live status and enqueues
// a StreamStatus event on every live/offline transition. Poll errors are
// logged and retried on the next tick.
func StartStatusPoller(ctx context.Context, helix *twitchapi.HelixClient, channel string, interval time.Duration, inbox Enqueuer) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := slog.Default().With(slog.String("component", "status_poller"))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var live, known bool
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			stream, err := helix.GetStream(reqCtx, channel)
			cancel()
			if err != nil {
				log.Debug("stream status poll failed", slog.Any("err", err))
				continue
			}
			nowLive := stream != nil
			if known && nowLive == live {
				continue
			}
			known = true
			live = nowLive

			e := event.New(event.KindStreamStatus)
			attrs := map[string]any{"live": nowLive}
			if stream != nil {
				attrs["viewers"] = stream.ViewerCount
				attrs["title"] = stream.Title
				attrs["game"] = stream.GameName
			}
			e.Attrs = attrs
			inbox.Enqueue(e)
			log.Info("stream status changed", slog.Bool("live", nowLive))
		}
	}()
}
