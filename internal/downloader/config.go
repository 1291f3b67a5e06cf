package downloader

import "time"

type Config struct {
	// OutputDir is the root under which the dated 'download/' tree is
	// created. A leading '~' is expanded at config load time.
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR" env-default:"~/riptide"`

	// DownloadParallelism controls how many download workers run
	// concurrently inside this instance.
	DownloadParallelism int `yaml:"download_parallelism" env:"DOWNLOAD_PARALLELISM" env-default:"2"`

	// MaxJobRuntime bounds the wall-clock time of a single job execution.
	MaxJobRuntime time.Duration `yaml:"max_job_runtime" env:"MAX_JOB_RUNTIME" env-default:"1h"`

	// VisibilityTimeout is how long a job may sit in 'running' without an
	// update before the sweeper considers its worker dead.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" env:"VISIBILITY_TIMEOUT" env-default:"90m"`

	// RetrySweepInterval is how often the stale-job sweep runs.
	RetrySweepInterval time.Duration `yaml:"retry_sweep_interval" env:"RETRY_SWEEP_INTERVAL" env-default:"1m"`

	// MaxAttempts caps how many times a job may be claimed before the
	// sweeper fails it terminally.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS" env-default:"3"`
}
