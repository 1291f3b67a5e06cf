package extractor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ClassifyFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		summary      string
		stderr       string
		expectedKind FailureKind
	}{
		{
			"unsupported url",
			"ERROR: Unsupported URL: https://example.com/nothing-here",
			UNSUPPORTED_URL,
		},
		{
			"garbage input",
			"ERROR: 'not-a-url' is not a valid URL.",
			UNSUPPORTED_URL,
		},
		{
			"unreachable host",
			"ERROR: Unable to download webpage: <urlopen error [Errno -3] Temporary failure in name resolution>",
			NETWORK,
		},
		{
			"connection reset",
			"ERROR: Connection reset by peer",
			NETWORK,
		},
		{
			"geo restriction falls through to extraction",
			"ERROR: This video is not available in your country",
			EXTRACTION,
		},
		{
			"empty stderr still classified",
			"",
			EXTRACTION,
		},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			failure := classifyFailure(test.stderr, errors.New("exit status 1"))
			assert.Equal(t, test.expectedKind, failure.Kind)
			assert.NotEmpty(t, failure.Detail)
		})
	}
}

func Test_ClassifyFailure_DetailUsesLastErrorLine(t *testing.T) {
	t.Parallel()

	stderr := "WARNING: something benign\nERROR: first failure\nsome context\nERROR: final failure"
	failure := classifyFailure(stderr, errors.New("exit status 1"))
	assert.Equal(t, "final failure", failure.Detail)
}

func Test_ClassifyFailure_FallsBackToRunError(t *testing.T) {
	t.Parallel()

	failure := classifyFailure("no error prefix in sight", errors.New("signal: killed"))
	assert.Equal(t, "signal: killed", failure.Detail)
}

func Test_Metadata_ParsesToolDump(t *testing.T) {
	t.Parallel()

	// Trimmed-down shape of the tools --dump-json output.
	payload := `{
		"title": "Test Video",
		"duration": 123.4,
		"uploader": "Test Channel",
		"webpage_url": "https://example.com/watch?v=abc",
		"thumbnail": "https://example.com/thumb.jpg",
		"formats": [
			{"format_id": "22", "ext": "mp4", "resolution": "1280x720", "format_note": "720p"}
		],
		"subtitles": {"en": [], "fr": []},
		"automatic_captions": {"de": []}
	}`

	var raw rawMetadata
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	meta := &Metadata{
		Title:        raw.Title,
		Duration:     raw.Duration,
		Uploader:     raw.Uploader,
		WebpageURL:   raw.WebpageURL,
		Thumbnail:    raw.Thumbnail,
		Formats:      raw.Formats,
		Subtitles:    sortedKeys(raw.Subtitles),
		AutoCaptions: sortedKeys(raw.AutoCaptions),
	}

	assert.Equal(t, "Test Video", meta.Title)
	assert.InDelta(t, 123.4, meta.Duration, 0.001)
	require.Len(t, meta.Formats, 1)
	assert.Equal(t, "22", meta.Formats[0].ID)
	assert.Equal(t, []string{"en", "fr"}, meta.Subtitles)
	assert.Equal(t, []string{"de"}, meta.AutoCaptions)
}

func Test_Error_Formatting(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: NETWORK, Detail: "connection reset"}
	assert.Equal(t, "extraction failed (NETWORK): connection reset", err.Error())
}
