package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const exportContentType = "application/gzip"

type Uploader interface {
	Upload(ctx context.Context, data []byte, objectKey, contentType string) (string, error)
}

// Exporter writes archive rows to object storage as one gzip-compressed JSON array.
type Exporter struct {
	Uploader Uploader
}

func NewExporter(uploader Uploader) *Exporter {
	return &Exporter{Uploader: uploader}
}

func ExportKey(day time.Time) string {
	return fmt.Sprintf("archived-messages/%s.json.gz", day.UTC().Format(time.DateOnly))
}

// Export uploads messages and returns the object URL. Nothing is uploaded for an empty slice.
func (e *Exporter) Export(ctx context.Context, day time.Time, messages []ArchivedMessage) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	data, err := Compress(messages)
	if err != nil {
		return "", err
	}

	url, err := e.Uploader.Upload(ctx, data, ExportKey(day), exportContentType)
	if err != nil {
		return "", fmt.Errorf("upload archive export: %w", err)
	}

	logging.Logger.Info("Archive export uploaded",
		zap.String("url", url),
		zap.Int("rows", len(messages)),
		zap.Int("compressed_bytes", len(data)),
	)

	return url, nil
}

func Compress(messages []ArchivedMessage) ([]byte, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)

	_, err = zw.Write(payload)
	if err != nil {
		return nil, err
	}

	err = zw.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
