package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
// Implementations report HTTP error statuses in the response instead of failing.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser turns raw pages of one source site into records.
type Parser interface {
	// ParseListing returns the links on a listing page, or ErrNoSuchPage when
	// pagination has run past the end.
	ParseListing(page FetchResponse) ([]LinkRecord, error)
	// ParseDetail returns nil when the page is not a recognizable detail page.
	ParseDetail(page FetchResponse) (*ExtractionOutput, error)
}

// Extractor runs the extraction cascade for a document URL. A nil result means
// extraction was impossible; the reason has already been logged.
type Extractor interface {
	Extract(ctx context.Context, url string) *ExtractionOutput
}

// Appender durably appends one record to an incremental log.
type Appender[T Keyed] interface {
	Append(ctx context.Context, record T) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes phase summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore keeps a ledger of phase summaries.
type RunStore interface {
	RecordPhase(ctx context.Context, summary PhaseSummary) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for the inter-request delay. It returns early with the context error.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests used as archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}
