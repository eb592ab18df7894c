package port

import (
	"context"

	"github.com/apexfin/invoiceflow/internal/domain/entity"
)

// DocumentExtractor turns raw file bytes into structured invoice fields with
// per-field confidence. The production implementation calls an external
// vision model; tests use a deterministic fixture. Any error it returns is
// treated by the workflow as a retryable step failure.
type DocumentExtractor interface {
	Extract(ctx context.Context, content []byte, mimeType string) (*entity.ExtractionResult, error)
}
