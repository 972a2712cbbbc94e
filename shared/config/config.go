package config

import (
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

// Public holds forum settings that are safe to expose to clients.
type Public struct {
	JwtTTL      time.Duration `yaml:"jwt_ttl"`
	Attachments Attachments   `yaml:"attachments"`
	Avatars     Avatars       `yaml:"avatars"`
	Mentions    Mentions      `yaml:"mentions"`
	Server      Server        `yaml:"server"`
	Worker      Worker        `yaml:"worker"`
	Log         Log           `yaml:"log"`
}

type Attachments struct {
	Enable          bool   `yaml:"enable"`
	SizeLimitKB     int64  `yaml:"size_limit_kb" validate:"gte=0"`
	PostLimitKB     int64  `yaml:"post_limit_kb" validate:"gte=0"`
	NumPerPostLimit int    `yaml:"num_per_post_limit" validate:"gte=0"`
	CheckExtensions bool   `yaml:"check_extensions"`
	Extensions      string `yaml:"extensions"` // comma separated, e.g. "jpg,png,zip"
	ImageReencode   bool   `yaml:"image_reencode"`
	Autorotate      bool   `yaml:"autorotate"`
	RequireApproval bool   `yaml:"require_approval"`

	Thumbnails     bool `yaml:"thumbnails"`
	ThumbWidth     int  `yaml:"thumb_width" validate:"gte=0"`
	ThumbHeight    int  `yaml:"thumb_height" validate:"gte=0"`
	ShowImages     bool `yaml:"show_images"`
	MaxImageWidth  int  `yaml:"max_image_width" validate:"gte=0"`
	MaxImageHeight int  `yaml:"max_image_height" validate:"gte=0"`

	Directories      []Directory   `yaml:"directories" validate:"required,min=1,dive"`
	CurrentDirectory int           `yaml:"current_directory" validate:"required"`
	Automanage       Automanage    `yaml:"automanage"`
	TempTTL          time.Duration `yaml:"temp_ttl"`
	GCInterval       time.Duration `yaml:"gc_interval"`
	MimeIconDir      string        `yaml:"mime_icon_dir"`
}

type Directory struct {
	Id   int    `yaml:"id" validate:"required"`
	Path string `yaml:"path" validate:"required"`
}

type Automanage struct {
	Enabled        bool   `yaml:"enabled"`
	DirSizeLimitKB int64  `yaml:"dir_size_limit_kb" validate:"gte=0"`
	DirFileLimit   int    `yaml:"dir_file_limit" validate:"gte=0"`
	BaseDirectory  string `yaml:"base_directory"`
}

type Avatars struct {
	CustomEnabled bool          `yaml:"custom_enabled"`
	CustomDir     string        `yaml:"custom_dir"`
	ServerDir     string        `yaml:"server_dir"`
	DownloadPNG   bool          `yaml:"download_png"`
	MaxWidth      int           `yaml:"max_width" validate:"gte=0"`
	MaxHeight     int           `yaml:"max_height" validate:"gte=0"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type Mentions struct {
	RecheckQueue            string            `yaml:"recheck_queue"`
	SettingsRefreshInterval time.Duration     `yaml:"settings_refresh_interval"`
	MessageTemplates        map[string]string `yaml:"message_templates"`
	BaseURL                 string            `yaml:"base_url"`
}

type Server struct {
	Port                       int           `yaml:"port"`
	AllowedOrigins             []string      `yaml:"allowed_origins"`
	SecureCookies              bool          `yaml:"secure_cookies"`
	BoardAccessRefreshInterval time.Duration `yaml:"board_access_refresh_interval"`
	UploadsPerMinute           int           `yaml:"uploads_per_minute" validate:"gte=0"`
	MetricsPath                string        `yaml:"metrics_path"`
}

type Worker struct {
	Concurrency int `yaml:"concurrency" validate:"gte=0"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Pg struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname" validate:"required"`
}

type Redis struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Private struct {
	Pg     Pg     `yaml:"pg"`
	Redis  Redis  `yaml:"redis"`
	JwtKey string `yaml:"jwt_key" validate:"required"`
}

func (s *Config) JwtKey() string {
	return s.Private.JwtKey
}

func (s *Config) JwtTTL() time.Duration {
	return s.Public.JwtTTL
}

// MaxRequestSize is the upper bound for a multipart upload request.
// An unlimited post size falls back to the per file limit times the per post count.
func (a Attachments) MaxRequestSize() int64 {
	const overhead = 1 << 20
	if a.PostLimitKB > 0 {
		return a.PostLimitKB*1024 + overhead
	}
	n := int64(a.NumPerPostLimit)
	if n == 0 {
		n = 50
	}
	if a.SizeLimitKB > 0 {
		return a.SizeLimitKB*1024*n + overhead
	}
	return 128 << 20
}

func (a *Attachments) setDefaults() {
	if a.TempTTL == 0 {
		a.TempTTL = 6 * time.Hour
	}
	if a.GCInterval == 0 {
		a.GCInterval = time.Hour
	}
}

func (a *Avatars) setDefaults() {
	if a.CacheTTL == 0 {
		a.CacheTTL = 15 * time.Minute
	}
}

func (m *Mentions) setDefaults() {
	if m.RecheckQueue == "" {
		m.RecheckQueue = "default"
	}
	if m.SettingsRefreshInterval == 0 {
		m.SettingsRefreshInterval = time.Minute
	}
}

func (s *Server) setDefaults() {
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.BoardAccessRefreshInterval == 0 {
		s.BoardAccessRefreshInterval = time.Minute
	}
	if s.UploadsPerMinute == 0 {
		s.UploadsPerMinute = 30
	}
	if s.MetricsPath == "" {
		s.MetricsPath = "/metrics"
	}
}

func (w *Worker) setDefaults() {
	if w.Concurrency == 0 {
		w.Concurrency = 4
	}
}

func mustLoadPath(configPath string, output interface{}) {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)

	if err != nil {
		panic("can't read config file")
	}

	err = yaml.Unmarshal(configFile, output)
	if err != nil {
		panic("can't unmarshal config file")
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	public.Attachments.setDefaults()
	public.Avatars.setDefaults()
	public.Mentions.setDefaults()
	public.Server.setDefaults()
	public.Worker.setDefaults()

	cfg := &Config{public, private}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		panic("invalid config: " + err.Error())
	}
	return cfg
}
