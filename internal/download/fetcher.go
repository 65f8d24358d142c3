package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
)

// Fetcher downloads remote artifacts to local files. Writes go through a
// .partial temp file renamed into place on success, so an interrupted
// download never satisfies a later exists-check.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewFetcher(logger *slog.Logger) *Fetcher {
	return &Fetcher{
		// No client-level timeout: cloud image downloads may legitimately
		// take minutes. Cancellation comes from ctx.
		client: &http.Client{},
		logger: logger.With(slog.String("component", "download")),
	}
}

// Fetch downloads url into dest. When wantSHA256 is non-empty the content
// digest is verified before the file is moved into place.
func (f *Fetcher) Fetch(ctx context.Context, url, dest, wantSHA256 string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: unexpected status %s", url, resp.Status)
	}

	f.logger.Info("downloading",
		slog.String("url", url),
		slog.Int64("content_length", resp.ContentLength),
	)

	partial := dest + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to write %s: %w", partial, err)
	}

	if wantSHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if got != wantSHA256 {
			os.Remove(partial)
			return fmt.Errorf("checksum mismatch for %s: got %s, want %s", url, got, wantSHA256)
		}
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	f.logger.Info("download complete",
		slog.String("dest", dest),
		slog.Int64("bytes", written),
	)
	return nil
}
