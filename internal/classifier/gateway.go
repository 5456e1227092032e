// Package classifier adapts the external reasoning oracle. The core only
// depends on the Gateway contract; gateway failures are always mapped to
// the fallback path, never surfaced raw to the caller.
package classifier

import (
	"context"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/pkg/schema"
)

// Gateway scores a query against the catalog and returns ranked candidates.
//
// Failure modes the core must handle:
//   - SERVICE_UNAVAILABLE: oracle unreachable or timed out
//   - MALFORMED_RESPONSE: oracle returned data failing schema validation
type Gateway interface {
	Classify(ctx context.Context, query string, history []schema.Turn, cat *catalog.Catalog) (*schema.ClassificationResult, error)
}

// GatewayFunc adapts a plain function to the Gateway interface.
type GatewayFunc func(ctx context.Context, query string, history []schema.Turn, cat *catalog.Catalog) (*schema.ClassificationResult, error)

func (f GatewayFunc) Classify(ctx context.Context, query string, history []schema.Turn, cat *catalog.Catalog) (*schema.ClassificationResult, error) {
	return f(ctx, query, history, cat)
}
