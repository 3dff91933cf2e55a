package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/menta2k/stride-detect/internal/utils"
	"github.com/menta2k/stride-detect/pkg/cropper"
)

// Backends understood by the pipeline
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendReplay   = "replay"
)

// Config holds every input and output of a pipeline run
type Config struct {
	// Detector
	Backend    string  `json:"backend"`
	URL        string  `json:"url"`
	Model      string  `json:"model"`
	LabelsPath string  `json:"labels_path"`
	Confidence float64 `json:"confidence"`
	MinArea    float64 `json:"min_area"`

	// Image sent to the model
	SendFormat  string `json:"send_format"`
	SendSize    int    `json:"send_size"`
	SendQuality int    `json:"send_quality"`

	// Inputs
	DatabasePath string `json:"database_path"`
	ImagePath    string `json:"image_path"`
	MinImageSize int    `json:"min_image_size"`
	Region       string `json:"region"`
	Trim         bool   `json:"trim"`

	// Outputs
	OutputImage   string `json:"output_image"`
	OutputFormat  string `json:"output_format"`
	OutputQuality int    `json:"output_quality"`
	ReportPath    string `json:"report_path"`
	SummaryPath   string `json:"summary_path"`

	Show  bool `json:"show"`
	Debug bool `json:"debug"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend:       BackendLlamaCpp,
		Model:         "openbmb/minicpm-v4.5",
		LabelsPath:    "classes.txt",
		Confidence:    0.3,
		SendFormat:    "jpg",
		SendSize:      1536,
		SendQuality:   85,
		DatabasePath:  "stride_databases.json",
		ImagePath:     "diagram.png",
		MinImageSize:  32,
		OutputImage:   "detections.jpg",
		OutputQuality: 92,
		ReportPath:    "report.txt",
	}
}

// DefaultURL returns the server URL used when none is configured
func DefaultURL(backend string) string {
	switch backend {
	case BackendOllama:
		return "http://localhost:11435/api/chat"
	case BackendLlamaCpp:
		return "http://localhost:8080"
	default:
		return ""
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// LoadEnvFile loads variables from the first .env file found in paths.
// It returns the file that was loaded, or "" when none was present.
func LoadEnvFile(paths ...string) string {
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// ApplyEnv overrides fields from STRIDE_* environment variables
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"STRIDE_BACKEND":    &c.Backend,
		"STRIDE_URL":        &c.URL,
		"STRIDE_MODEL":      &c.Model,
		"STRIDE_LABELS":     &c.LabelsPath,
		"STRIDE_DB":         &c.DatabasePath,
		"STRIDE_IMAGE":      &c.ImagePath,
		"STRIDE_OUT_IMAGE":  &c.OutputImage,
		"STRIDE_OUT_REPORT": &c.ReportPath,
		"STRIDE_SUMMARY":    &c.SummaryPath,
		"STRIDE_REGION":     &c.Region,
	}
	for key, field := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*field = v
		}
	}

	if v, ok := os.LookupEnv("STRIDE_CONF"); ok {
		conf, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(err, "invalid STRIDE_CONF")
		}
		c.Confidence = conf
	}
	if v, ok := os.LookupEnv("STRIDE_SHOW"); ok {
		show, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "invalid STRIDE_SHOW")
		}
		c.Show = show
	}
	return nil
}

// ResolvedURL returns the configured server URL or the backend default
func (c *Config) ResolvedURL() string {
	if c.URL != "" {
		return c.URL
	}
	return DefaultURL(c.Backend)
}

// ResolvedOutputFormat returns the annotated image format, derived from its extension when unset
func (c *Config) ResolvedOutputFormat() string {
	if c.OutputFormat != "" {
		return strings.ToLower(c.OutputFormat)
	}
	switch ext := utils.GetFileExtension(c.OutputImage); ext {
	case "png", "webp":
		return ext
	default:
		return "jpg"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama, BackendLlamaCpp, BackendReplay:
	default:
		return errors.Errorf("backend must be one of %s, %s, %s; got %q", BackendOllama, BackendLlamaCpp, BackendReplay, c.Backend)
	}

	required := []struct{ name, value string }{
		{"model", c.Model},
		{"labels_path", c.LabelsPath},
		{"database_path", c.DatabasePath},
		{"image_path", c.ImagePath},
		{"output_image", c.OutputImage},
		{"report_path", c.ReportPath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.Errorf("%s is required", r.name)
		}
	}

	if c.Confidence < 0 || c.Confidence > 1 {
		return errors.New("confidence must be between 0 and 1")
	}

	if c.MinArea < 0 || c.MinArea > 1 {
		return errors.New("min_area must be between 0 and 1")
	}

	switch strings.ToLower(c.SendFormat) {
	case "jpg", "jpeg", "png":
	default:
		return errors.New("send_format must be jpg or png")
	}

	if c.SendSize < 0 {
		return errors.New("send_size must not be negative")
	}

	if c.MinImageSize < 0 {
		return errors.New("min_image_size must not be negative")
	}

	if _, err := cropper.ParseRegion(c.Region); err != nil {
		return errors.Wrap(err, "invalid region")
	}

	if c.SendQuality < 1 || c.SendQuality > 100 {
		return errors.New("send_quality must be between 1 and 100")
	}

	switch c.ResolvedOutputFormat() {
	case "jpg", "jpeg", "png", "webp":
	default:
		return errors.New("output_format must be jpg, png or webp")
	}

	if c.OutputQuality < 1 || c.OutputQuality > 100 {
		return errors.New("output_quality must be between 1 and 100")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "stride-detect", "config.json")
}
