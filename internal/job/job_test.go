package job_test

import (
	"testing"

	"github.com/riptide-app/riptide/internal/job"
	"github.com/stretchr/testify/assert"
)

func Test_AggregateStatus(t *testing.T) {
	t.Parallel()

	ok := job.ArtifactResult{URL: "https://example.com/a", Kind: job.KindVideo, Ok: true}
	failed := job.ArtifactResult{URL: "https://example.com/a", Kind: job.KindAudio, Ok: false}

	tests := []struct {
		summary  string
		results  []job.ArtifactResult
		expected job.Status
	}{
		{"all results ok", []job.ArtifactResult{ok, ok}, job.StatusSucceeded},
		{"no results ok", []job.ArtifactResult{failed, failed}, job.StatusFailed},
		{"mixed results", []job.ArtifactResult{ok, failed}, job.StatusPartialSuccess},
		{"no results at all", []job.ArtifactResult{}, job.StatusSucceeded},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			assert.Equal(t, test.expected, job.AggregateStatus(test.results))
		})
	}
}

func Test_StatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, job.StatusQueued.Terminal())
	assert.False(t, job.StatusRunning.Terminal())
	assert.True(t, job.StatusSucceeded.Terminal())
	assert.True(t, job.StatusFailed.Terminal())
	assert.True(t, job.StatusPartialSuccess.Terminal())
}

func Test_ArtifactRequestKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, job.ArtifactRequest{}.Empty())
	assert.Empty(t, job.ArtifactRequest{}.Kinds())

	full := job.ArtifactRequest{Video: true, Audio: true, Subtitles: true}
	assert.False(t, full.Empty())
	assert.Equal(t, []job.ArtifactKind{job.KindVideo, job.KindAudio, job.KindSubtitles}, full.Kinds())

	assert.Equal(t, []job.ArtifactKind{job.KindAudio}, job.ArtifactRequest{Audio: true}.Kinds())
}

func Test_New_StartsQueued(t *testing.T) {
	t.Parallel()

	created := job.New([]string{"https://example.com/a", "https://example.com/b"}, job.ArtifactRequest{Video: true})
	assert.Equal(t, job.StatusQueued, created.Status)
	assert.Zero(t, created.Attempts)
	assert.Len(t, created.URLs, 2)
	assert.Empty(t, created.Results)
}
