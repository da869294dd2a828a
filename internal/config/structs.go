//nolint:lll
package config

// Config is the complete configuration for kappi. It covers every command
// (classify, batch, serve) and is loaded from files, KAPPI_* environment
// variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Model     ModelConfig     `mapstructure:"model" yaml:"model" json:"model"`
	Prefilter PrefilterConfig `mapstructure:"prefilter" yaml:"prefilter" json:"prefilter"`
	Gate      GateConfig      `mapstructure:"gate" yaml:"gate" json:"gate"`
	Treatment TreatmentConfig `mapstructure:"treatment" yaml:"treatment" json:"treatment"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output" json:"output"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch" json:"batch"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage" json:"storage"`
}

// ModelConfig selects and tunes the inference engine.
type ModelConfig struct {
	Engine     string    `mapstructure:"engine" yaml:"engine" json:"engine"`
	Path       string    `mapstructure:"path" yaml:"path" json:"path"`
	Layout     string    `mapstructure:"layout" yaml:"layout" json:"layout"`
	InputSize  int       `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	NumThreads int       `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	GPU        GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// GPUConfig contains GPU acceleration settings for the ONNX engine.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// PrefilterConfig holds the plausibility pre-filter thresholds.
type PrefilterConfig struct {
	DarkChannelMax  int     `mapstructure:"dark_channel_max" yaml:"dark_channel_max" json:"dark_channel_max"`
	MaxDarkRatio    float64 `mapstructure:"max_dark_ratio" yaml:"max_dark_ratio" json:"max_dark_ratio"`
	GreenChannelMin int     `mapstructure:"green_channel_min" yaml:"green_channel_min" json:"green_channel_min"`
	MinGreenRatio   float64 `mapstructure:"min_green_ratio" yaml:"min_green_ratio" json:"min_green_ratio"`
}

// GateConfig holds the decision gate thresholds.
type GateConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	MaxConfidence float64 `mapstructure:"max_confidence" yaml:"max_confidence" json:"max_confidence"`
	MinMass       float64 `mapstructure:"min_mass" yaml:"min_mass" json:"min_mass"`
}

// TreatmentConfig points at an optional recommendations override file.
type TreatmentConfig struct {
	File           string `mapstructure:"file" yaml:"file" json:"file"`
	DefaultVariety string `mapstructure:"default_variety" yaml:"default_variety" json:"default_variety"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format              string `mapstructure:"format" yaml:"format" json:"format"`
	File                string `mapstructure:"file" yaml:"file" json:"file"`
	ConfidencePrecision int    `mapstructure:"confidence_precision" yaml:"confidence_precision" json:"confidence_precision"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Scan history identity
	JWTSecret       string `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
	TrustUserHeader bool   `mapstructure:"trust_user_header" yaml:"trust_user_header" json:"trust_user_header"`

	// Rate limiting
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool   `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	ContinueOnError bool   `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
	ShowProgress    bool   `mapstructure:"show_progress" yaml:"show_progress" json:"show_progress"`
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
}

// StorageConfig selects the scan history backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}
