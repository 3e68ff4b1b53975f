// Package crawler defines the records, collaborator interfaces, and error
// taxonomy shared by the document store, frontier walker, batch worker,
// extraction cascade, and dispatcher of the docfetcher pipeline.
package crawler
