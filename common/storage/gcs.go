package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GCSArchive stores raw pages in a Google Cloud Storage bucket
type GCSArchive struct {
	client *gcs.Client
	bucket string
}

// NewGCSArchive creates an archive over a GCS bucket
func NewGCSArchive(ctx context.Context, cfg config.ArchiveConfig) (*GCSArchive, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	return &GCSArchive{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// ArchivePage stores one page under <strategy>/<date>/<url-hash>.html
func (g *GCSArchive) ArchivePage(ctx context.Context, strategyID, pageURL string, html []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s/%x.html",
		strategyID,
		time.Now().UTC().Format("2006-01-02"),
		sha1.Sum([]byte(pageURL)),
	)

	wc := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = "text/html; charset=utf-8"
	wc.Metadata = map[string]string{
		"source-url": pageURL,
	}

	if _, err := io.Copy(wc, bytes.NewReader(html)); err != nil {
		wc.Close()
		return "", fmt.Errorf("uploading %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("finalizing %s: %w", objectName, err)
	}

	log.Debug().Str("object", objectName).Str("url", pageURL).Msg("Archived page")
	return objectName, nil
}

// Close releases the underlying client
func (g *GCSArchive) Close() error {
	return g.client.Close()
}

// SetupArchive builds the configured archive, or a no-op one when archiving
// is disabled
func SetupArchive(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	if !cfg.Enabled {
		return NoopArchive{}, nil
	}

	archive, err := NewGCSArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	log.Info().Str("bucket", cfg.Bucket).Msg("Page archiving enabled")
	return archive, nil
}
