// Package fetcher routes fetch requests between the static colly fetcher and
// the headless chromedp fetcher.
package fetcher
