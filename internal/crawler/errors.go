package crawler

import "errors"

// Error taxonomy for the crawl and extract pipeline. Only ErrNoSuchPage changes
// control flow on purpose; the rest are downgraded to logged skips by the
// smallest enclosing unit of work.
var (
	// ErrFetch marks transport and timeout failures.
	ErrFetch = errors.New("fetch failed")
	// ErrNoSuchPage is the end-of-pagination signal returned by listing parsers.
	ErrNoSuchPage = errors.New("no such page")
	// ErrParse marks pages whose expected structure is absent.
	ErrParse = errors.New("unexpected page structure")
	// ErrExtractionImpossible marks documents no cascade path could handle.
	ErrExtractionImpossible = errors.New("extraction impossible")
	// ErrOCR marks rasterize or recognition failures.
	ErrOCR = errors.New("ocr failed")
)
