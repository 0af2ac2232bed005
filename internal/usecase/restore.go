package usecase

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"swarmhub/internal/domain"
	"swarmhub/internal/domain/ports"
)

type RestoreEngine interface {
	LoadTorrentList(ctx context.Context) []domain.TorrentSnapshot
	Add(source, savePath string) (ports.Handle, error)
}

// RestoreSession re-adds every transfer from the persisted list. Checkpoints
// are attached inside Add, so restored transfers resume instead of rechecking
// from scratch. Individual failures are logged and skipped.
func RestoreSession(ctx context.Context, engine RestoreEngine, logger *slog.Logger) int {
	restored := 0
	for _, entry := range engine.LoadTorrentList(ctx) {
		if !entry.Fingerprint.Valid() {
			logger.Warn("restore: skipping entry with bad fingerprint",
				slog.String("fingerprint", string(entry.Fingerprint)),
			)
			continue
		}
		if _, err := engine.Add(magnetFromSnapshot(entry), entry.SavePath); err != nil {
			logger.Warn("restore: re-add failed",
				slog.String("fingerprint", entry.Fingerprint.Short()),
				slog.String("name", entry.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}
	return restored
}

// magnetFromSnapshot rebuilds a magnet link from the stored fingerprint,
// display name and tracker list.
func magnetFromSnapshot(entry domain.TorrentSnapshot) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(string(entry.Fingerprint))
	if entry.Name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(entry.Name))
	}
	for _, tr := range entry.Trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}
