package internal

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/riptide-app/riptide/internal/api"
	"github.com/riptide-app/riptide/internal/database"
	"github.com/riptide-app/riptide/internal/downloader"
	"github.com/riptide-app/riptide/internal/extractor"
	"github.com/riptide-app/riptide/internal/ffmpeg"
	"github.com/riptide-app/riptide/internal/queue"
)

// RiptideConfig is the struct used to contain the various user config
// supplied by file, or manually inside the code.
type RiptideConfig struct {
	Database  database.DatabaseConfig `yaml:"database" env-required:"true"`
	Queue     queue.Config            `yaml:"queue"`
	Downloads downloader.Config       `yaml:"downloads"`
	Extractor extractor.Config        `yaml:"extractor"`
	Ffmpeg    ffmpeg.Config           `yaml:"ffmpeg"`
	Rest      api.RestConfig          `yaml:"api"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// RiptideConfig struct, applying env var overrides and expanding the
// output directory to an absolute path.
func (config *RiptideConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration - %v", err.Error())
	}

	expanded, err := homedir.Expand(config.Downloads.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to expand output directory '%s' - %v", config.Downloads.OutputDir, err.Error())
	}

	config.Downloads.OutputDir = expanded
	return nil
}
