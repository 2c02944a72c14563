package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "exports"})
	require.ErrorContains(t, err, "storage client is required")
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ScrapedUrls.txt", objectPath("", "/ScrapedUrls.txt"))
	assert.Equal(t, "crawls/c1/ScrapedUrls.csv", objectPath("crawls", "c1/ScrapedUrls.csv"))
	assert.Equal(t, "a/b/report.txt", objectPath("a/b", "report.txt"))
}
