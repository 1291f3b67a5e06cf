package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/riptide-app/riptide/internal/extractor"
	"github.com/riptide-app/riptide/internal/ffmpeg"
	"github.com/riptide-app/riptide/internal/job"
	"github.com/riptide-app/riptide/pkg/logger"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// langSimilarityThreshold is the minimum similarity for a requested
// subtitle language to be considered a match for an available one
// (e.g. 'en' matching 'en-US' when no exact 'en' track exists).
const langSimilarityThreshold = 0.8

type (
	extractionClient interface {
		FetchMetadata(ctx context.Context, url string) (*extractor.Metadata, error)
		DownloadVideo(ctx context.Context, url string, destDir string) (string, error)
		DownloadAudio(ctx context.Context, url string, destDir string) (string, error)
		DownloadSubtitles(ctx context.Context, url string, langs []string, destDir string) ([]string, error)
	}

	audioConverter interface {
		ConvertToWav(ctx context.Context, sourcePath string, destPath string) error
	}

	// Executor turns a claimed job in to a set of artifact results. Each
	// (url, artifact kind) pair is attempted independently; a failure is
	// recorded against that pair and never aborts its siblings.
	Executor struct {
		client    extractionClient
		converter audioConverter
		output    *outputManager
		fs        afero.Fs
		config    Config
	}

	ffmpegConverter struct {
		config *ffmpeg.Config
	}
)

func NewExecutor(client extractionClient, ffmpegConfig *ffmpeg.Config, fs afero.Fs, config Config) *Executor {
	return &Executor{
		client:    client,
		converter: &ffmpegConverter{config: ffmpegConfig},
		output:    newOutputManager(fs, config.OutputDir),
		fs:        fs,
		config:    config,
	}
}

// ExecuteJob runs every requested artifact download for every URL of the
// job, bounded overall by the configured max job runtime. The returned
// results always cover each (url, kind) pair exactly once, with subtitle
// downloads contributing one result per language instead.
func (executor *Executor) ExecuteJob(ctx context.Context, j *job.Job) []job.ArtifactResult {
	ctx, cancel := context.WithTimeout(ctx, executor.config.MaxJobRuntime)
	defer cancel()

	results := make([]job.ArtifactResult, 0)
	for _, url := range j.URLs {
		results = append(results, executor.executeURL(ctx, url, j.Artifacts)...)
	}

	return results
}

func (executor *Executor) executeURL(ctx context.Context, url string, request job.ArtifactRequest) []job.ArtifactResult {
	results := make([]job.ArtifactResult, 0)
	if ctx.Err() != nil {
		return failAllKinds(url, request, "max job runtime exceeded")
	}

	meta, err := executor.client.FetchMetadata(ctx, url)
	if err != nil {
		log.Emit(logger.WARNING, "Metadata fetch for %s failed: %v\n", url, err)
		return failAllKinds(url, request, err.Error())
	}

	dir, err := executor.output.CreateArtifactDir(meta.Title, time.Now())
	if err != nil {
		return failAllKinds(url, request, err.Error())
	}

	for _, kind := range request.Kinds() {
		if ctx.Err() != nil {
			results = append(results, failedResult(url, kind, "max job runtime exceeded"))
			continue
		}

		switch kind {
		case job.KindVideo:
			results = append(results, executor.downloadVideo(ctx, url, dir))
		case job.KindAudio:
			results = append(results, executor.downloadAudio(ctx, url, dir))
		case job.KindSubtitles:
			results = append(results, executor.downloadSubtitles(ctx, url, request.SubtitleLangs, meta, dir)...)
		}
	}

	return results
}

func (executor *Executor) downloadVideo(ctx context.Context, url string, dir *artifactDir) job.ArtifactResult {
	path, err := executor.client.DownloadVideo(ctx, url, dir.Abs)
	if err != nil {
		return failedResult(url, job.KindVideo, err.Error())
	}

	return okResult(url, job.KindVideo, executor.output.Relativize(path))
}

// downloadAudio fetches the best audio stream and converts it to the WAV
// delivery format. The intermediate container is removed once converted;
// a stream which already arrived as WAV is delivered as-is.
func (executor *Executor) downloadAudio(ctx context.Context, url string, dir *artifactDir) job.ArtifactResult {
	sourcePath, err := executor.client.DownloadAudio(ctx, url, dir.Abs)
	if err != nil {
		return failedResult(url, job.KindAudio, err.Error())
	}

	if strings.EqualFold(filepath.Ext(sourcePath), ".wav") {
		return okResult(url, job.KindAudio, executor.output.Relativize(sourcePath))
	}

	wavPath := filepath.Join(dir.Abs, "audio.wav")
	if err := executor.converter.ConvertToWav(ctx, sourcePath, wavPath); err != nil {
		return failedResult(url, job.KindAudio, fmt.Sprintf("wav conversion failed: %s", err))
	}

	if err := executor.fs.Remove(sourcePath); err != nil {
		log.Emit(logger.WARNING, "Failed to remove intermediate audio file %s: %v\n", sourcePath, err)
	}

	return okResult(url, job.KindAudio, executor.output.Relativize(wavPath))
}

// downloadSubtitles resolves the requested languages against what the
// platform reports as available, downloads the matched set and records one
// result per language. Languages with no acceptable match are recorded as
// failed results without affecting the rest.
func (executor *Executor) downloadSubtitles(ctx context.Context, url string, requestedLangs []string, meta *extractor.Metadata, dir *artifactDir) []job.ArtifactResult {
	available := lo.Union(meta.Subtitles, meta.AutoCaptions)

	results := make([]job.ArtifactResult, 0)
	fetchLangs := make([]string, 0, len(requestedLangs))
	for _, lang := range requestedLangs {
		matched, ok := matchSubtitleLang(lang, available)
		if !ok {
			results = append(results, failedResult(url, job.KindSubtitles, fmt.Sprintf("subtitle language '%s' is not available", lang)))
			continue
		}

		fetchLangs = append(fetchLangs, matched)
	}

	// An empty request means every available language; a request where
	// nothing matched means there is nothing left to fetch.
	if len(requestedLangs) > 0 && len(fetchLangs) == 0 {
		return results
	}

	paths, err := executor.client.DownloadSubtitles(ctx, url, fetchLangs, dir.Abs)
	if err != nil {
		return append(results, failedResult(url, job.KindSubtitles, err.Error()))
	}

	for _, path := range paths {
		results = append(results, okResult(url, job.KindSubtitles, executor.output.Relativize(path)))
	}

	return results
}

// matchSubtitleLang finds the available language best matching the one
// requested: an exact (case-insensitive) match wins, otherwise the most
// similar candidate above the similarity threshold.
func matchSubtitleLang(requested string, available []string) (string, bool) {
	if exact, ok := lo.Find(available, func(lang string) bool { return strings.EqualFold(lang, requested) }); ok {
		return exact, true
	}

	metric := metrics.NewJaroWinkler()
	metric.CaseSensitive = false

	best, bestScore := "", 0.0
	for _, lang := range available {
		if score := strutil.Similarity(requested, lang, metric); score > bestScore {
			best, bestScore = lang, score
		}
	}

	if bestScore >= langSimilarityThreshold {
		return best, true
	}

	return "", false
}

func failAllKinds(url string, request job.ArtifactRequest, detail string) []job.ArtifactResult {
	return lo.Map(request.Kinds(), func(kind job.ArtifactKind, _ int) job.ArtifactResult {
		return failedResult(url, kind, detail)
	})
}

func okResult(url string, kind job.ArtifactKind, outputPath string) job.ArtifactResult {
	return job.ArtifactResult{URL: url, Kind: kind, OutputPath: outputPath, Ok: true}
}

func failedResult(url string, kind job.ArtifactKind, detail string) job.ArtifactResult {
	return job.ArtifactResult{URL: url, Kind: kind, Ok: false, ErrorDetail: detail}
}

func (converter *ffmpegConverter) ConvertToWav(ctx context.Context, sourcePath string, destPath string) error {
	return ffmpeg.NewCmd(sourcePath, destPath, converter.config).Run(ctx, nil)
}
