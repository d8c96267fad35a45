//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var manifestTime = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func TestScans_TriggerRequiresKey(t *testing.T) {
	_, err := newClient("").TriggerScan(context.Background(), nil)
	assertHTTPError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestScans_TriggerAndRead(t *testing.T) {
	ctx := context.Background()
	c := newClient(createTestAPIKey(t, "e2e-scans"))

	scan, err := c.TriggerScan(ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, scan.ID)
	assert.Equal(t, testCtx.Feed.URL, scan.Source)
	assert.Equal(t, 0.8, scan.Threshold)
	assert.Equal(t, 3, scan.TotalChains)
	assert.Equal(t, 1, scan.Skipped)
	assert.Equal(t, 1, scan.Matched)
	require.Len(t, scan.Findings, 1)
	assert.Equal(t, int64(42161), scan.Findings[0].ChainID)
	assert.Equal(t, 0.9, scan.Findings[0].Score)
	require.NotNil(t, scan.Findings[0].Parent)
	assert.Equal(t, "L2", scan.Findings[0].Parent.Type)

	t.Run("get by id", func(t *testing.T) {
		got, err := c.GetScan(ctx, scan.ID)
		require.NoError(t, err)
		assert.Equal(t, scan.ID, got.ID)
		require.Len(t, got.Findings, 1)
		assert.Equal(t, "arb1", got.Findings[0].ShortName)
		require.NotNil(t, got.Findings[0].TVL)
		assert.Equal(t, 2.5e9, *got.Findings[0].TVL)
	})

	t.Run("latest", func(t *testing.T) {
		got, err := c.LatestScan(ctx)
		require.NoError(t, err)
		assert.Equal(t, scan.ID, got.ID)
	})

	t.Run("threshold override", func(t *testing.T) {
		threshold := 0.3
		low, err := c.TriggerScan(ctx, &threshold)
		require.NoError(t, err)
		assert.Equal(t, 0.3, low.Threshold)
		require.Len(t, low.Findings, 2)
		assert.Equal(t, "Arbitrum One", low.Findings[0].Name)
		assert.Equal(t, "Goerli", low.Findings[1].Name)
		assert.True(t, low.Findings[1].IsTestnet)
	})

	t.Run("invalid threshold", func(t *testing.T) {
		threshold := 1.5
		_, err := c.TriggerScan(ctx, &threshold)
		assertHTTPError(t, err, http.StatusBadRequest, "INVALID_REQUEST")
	})
}

func TestScans_NotFound(t *testing.T) {
	c := newClient("")

	for _, id := range []string{"not-a-uuid", "6fa459ea-ee8a-3ca4-894e-db77e160355e"} {
		t.Run(id, func(t *testing.T) {
			_, err := c.GetScan(context.Background(), id)
			assertHTTPError(t, err, http.StatusNotFound, "NOT_FOUND")
		})
	}
}

func TestScans_UpstreamDown(t *testing.T) {
	ctx := context.Background()
	c := newClient(createTestAPIKey(t, "e2e-upstream"))

	before, err := c.ListScans(ctx, 100, "")
	require.NoError(t, err)

	testCtx.Feed.SetDown(t)
	_, err = c.TriggerScan(ctx, nil)
	assertHTTPError(t, err, http.StatusBadGateway, "UPSTREAM_ERROR")

	after, err := c.ListScans(ctx, 100, "")
	require.NoError(t, err)
	assert.Len(t, after.Data, len(before.Data), "a failed scan is not recorded")
}

func TestScans_Pagination(t *testing.T) {
	ctx := context.Background()
	c := newClient(createTestAPIKey(t, "e2e-pages"))

	var ids []string
	for i := 0; i < 3; i++ {
		scan, err := c.TriggerScan(ctx, nil)
		require.NoError(t, err)
		ids = append(ids, scan.ID)
	}

	page1, err := c.ListScans(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page1.Data, 2)
	assert.True(t, page1.Pagination.HasMore)
	require.NotEmpty(t, page1.Pagination.NextCursor)
	assert.Equal(t, ids[2], page1.Data[0].ID, "newest first")
	assert.Equal(t, ids[1], page1.Data[1].ID)
	assert.Empty(t, page1.Data[0].Findings, "list omits findings")

	page2, err := c.ListScans(ctx, 2, page1.Pagination.NextCursor)
	require.NoError(t, err)
	require.NotEmpty(t, page2.Data)
	assert.Equal(t, ids[0], page2.Data[0].ID)

	_, err = c.ListScans(ctx, 2, "not-a-cursor")
	assertHTTPError(t, err, http.StatusBadRequest, "INVALID_REQUEST")
}
