package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, pagesFetchedTotal)
	require.NotNil(t, phaseRecords)
}

func TestObserveFetchLabelsByHost(t *testing.T) {
	Init()
	before := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("fetch.example.test", "200", "colly"))
	ObserveFetch("https://Fetch.example.test/list?page=1", 200, 512, "colly")
	after := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("fetch.example.test", "200", "colly"))
	require.InDelta(t, 1, after-before, 0.0001)
	require.GreaterOrEqual(t, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("fetch.example.test")), 512.0)
}

func TestObservePhaseSetsGauges(t *testing.T) {
	ObservePhase("links-test", 2*time.Second, 3, 10, 1)
	require.InDelta(t, 3, testutil.ToFloat64(phaseRecords.WithLabelValues("links-test", "discovered")), 0.0001)
	require.InDelta(t, 10, testutil.ToFloat64(phaseRecords.WithLabelValues("links-test", "total")), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(phaseRecords.WithLabelValues("links-test", "duplicates")), 0.0001)
}

func TestCountersAccumulate(t *testing.T) {
	AddLinksDiscovered("counter-site", 2)
	AddLinksDiscovered("counter-site", 0)
	require.InDelta(t, 2, testutil.ToFloat64(linksDiscoveredTotal.WithLabelValues("counter-site")), 0.0001)

	ObserveSkip("worker-test", "known")
	ObserveSkip("worker-test", "known")
	require.InDelta(t, 2, testutil.ToFloat64(skipsTotal.WithLabelValues("worker-test", "known")), 0.0001)

	IncActiveWorkers("gauge-test")
	IncActiveWorkers("gauge-test")
	DecActiveWorkers("gauge-test")
	require.InDelta(t, 1, testutil.ToFloat64(activeWorkers.WithLabelValues("gauge-test")), 0.0001)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
