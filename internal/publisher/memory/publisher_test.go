package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "phases", crawler.PhaseSummary{RunID: "r1", Phase: crawler.PhaseLinks, Site: "bis"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "phases", msgs[0].Topic)
	require.Equal(t, map[string]string{"run_id": "r1", "phase": "links", "site": "bis"}, msgs[0].Attributes)
	require.Nil(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	require.Equal(t, "phases", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "phases", "x")
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "phases", "x")
	require.NoError(t, err)
}
