package config

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/20after4/configdir"
	"github.com/genricoloni/coverled/internal/domain"
	"github.com/genricoloni/coverled/internal/processor"
	"github.com/pelletier/go-toml/v2"
	"github.com/zalando/go-keyring"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AppName names the keyring service and the config directory
const AppName = "coverled"

const (
	defaultPollSeconds    = 5
	defaultArtworkSize    = 128
	defaultTimeoutSeconds = 10
	defaultFrameDir       = "/tmp/coverled"
	defaultClientName     = "coverled"
	configFileName        = "config.toml"
)

// ServerType selects the media server backend
type ServerType string

const (
	ServerSubsonic ServerType = "subsonic"
	ServerJellyfin ServerType = "jellyfin"
	ServerMPRIS    ServerType = "mpris"
)

// Display drivers
const (
	DriverViewer = "viewer"
	DriverLog    = "log"
)

// ServerConfig describes how to reach the media server
type ServerConfig struct {
	Type           ServerType        `toml:"type"`
	Endpoints      []domain.Endpoint `toml:"endpoints"`
	Username       string            `toml:"username"`
	Password       string            `toml:"password"`
	ClientName     string            `toml:"client_name"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
}

// ArtworkConfig controls how artwork references are resolved
type ArtworkConfig struct {
	// Source is the reference kind the Jellyfin backend reports (path or remote)
	Source domain.ArtworkKind `toml:"source"`
	// MountPoint is the local prefix server paths are rewritten against
	MountPoint string `toml:"mount_point"`
	// ServerPathPrefix is stripped from server paths before the rewrite
	ServerPathPrefix string `toml:"server_path_prefix"`
	// Size is the square edge artwork is resized to before fitting the panel; 0 disables
	Size int `toml:"size"`
}

// PanelOptions is the LED matrix geometry and driver tuning
type PanelOptions struct {
	Rows            int    `toml:"rows"`
	Cols            int    `toml:"cols"`
	ChainLength     int    `toml:"chain_length"`
	Parallel        int    `toml:"parallel"`
	Brightness      int    `toml:"brightness"`
	LimitRefreshHz  int    `toml:"limit_refresh_hz"`
	GPIOSlowdown    int    `toml:"gpio_slowdown"`
	Multiplexing    int    `toml:"multiplexing"`
	HardwareMapping string `toml:"hardware_mapping"`
	DropPrivileges  bool   `toml:"drop_privileges"`
}

// Resolution is the addressable panel size: chained panels extend the width,
// parallel chains extend the height.
func (p PanelOptions) Resolution() domain.PanelResolution {
	return domain.PanelResolution{
		Width:  p.Cols * p.ChainLength,
		Height: p.Rows * p.Parallel,
	}
}

// Flags renders the options as rpi-rgb-led-matrix command line flags
func (p PanelOptions) Flags() []string {
	flags := []string{
		"--led-rows=" + strconv.Itoa(p.Rows),
		"--led-cols=" + strconv.Itoa(p.Cols),
		"--led-chain=" + strconv.Itoa(p.ChainLength),
		"--led-parallel=" + strconv.Itoa(p.Parallel),
		"--led-brightness=" + strconv.Itoa(p.Brightness),
		"--led-limit-refresh=" + strconv.Itoa(p.LimitRefreshHz),
		"--led-slowdown-gpio=" + strconv.Itoa(p.GPIOSlowdown),
		"--led-multiplexing=" + strconv.Itoa(p.Multiplexing),
	}
	if p.HardwareMapping != "" {
		flags = append(flags, "--led-gpio-mapping="+p.HardwareMapping)
	}
	if !p.DropPrivileges {
		flags = append(flags, "--led-no-drop-privs")
	}
	return flags
}

// DisplayConfig selects and configures the display sink
type DisplayConfig struct {
	Driver   string `toml:"driver"`
	Viewer   string `toml:"viewer"`
	FrameDir string `toml:"frame_dir"`
	Matte    string `toml:"matte"`
	// BlurRadius is the blur sigma used by the blur matte
	BlurRadius int `toml:"blur_radius"`
}

// AppConfig holds application configuration
type AppConfig struct {
	Server      ServerConfig  `toml:"server"`
	Artwork     ArtworkConfig `toml:"artwork"`
	Panel       PanelOptions  `toml:"panel"`
	Display     DisplayConfig `toml:"display"`
	PollSeconds int           `toml:"poll_seconds"`
}

// Default returns the configuration used when nothing overrides it
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Type:           ServerSubsonic,
			ClientName:     defaultClientName,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Artwork: ArtworkConfig{
			Size: defaultArtworkSize,
		},
		Panel: PanelOptions{
			Rows:            64,
			Cols:            64,
			ChainLength:     2,
			Parallel:        2,
			Brightness:      40,
			LimitRefreshHz:  60,
			GPIOSlowdown:    2,
			Multiplexing:    0,
			HardwareMapping: "regular",
		},
		Display: DisplayConfig{
			Driver:     DriverViewer,
			FrameDir:   defaultFrameDir,
			Matte:      string(processor.MatteBlack),
			BlurRadius: 6,
		},
		PollSeconds: defaultPollSeconds,
	}
}

// NewAppConfig loads the configuration from the config file and the environment
func NewAppConfig(logger *zap.Logger) (*AppConfig, error) {
	path, explicit := configPath(os.Getenv)

	cfg, err := Load(os.Getenv, path, explicit)
	if err != nil {
		return nil, err
	}

	if cfg.Server.Password == "" && cfg.Server.Type != ServerMPRIS {
		logger.Warn("No password configured", zap.String("user", cfg.Server.Username))
	}
	if cfg.Artwork.Source == domain.KindPath && cfg.Artwork.MountPoint == "" {
		logger.Warn("Artwork source is path but no mount point is configured; artwork will not resolve")
	}

	logger.Info("Configuration loaded",
		zap.String("configFile", path),
		zap.String("server", string(cfg.Server.Type)),
		zap.Stringers("endpoints", cfg.Server.Endpoints),
		zap.String("user", cfg.Server.Username),
		zap.String("artworkSource", string(cfg.Artwork.Source)),
		zap.String("mountPoint", cfg.Artwork.MountPoint),
		zap.Int("panelWidth", cfg.Panel.Resolution().Width),
		zap.Int("panelHeight", cfg.Panel.Resolution().Height),
		zap.String("display", cfg.Display.Driver),
		zap.Duration("pollInterval", cfg.PollInterval()))

	return cfg, nil
}

// Load builds the configuration from defaults, the TOML file at path and the environment, in that order.
// A missing file is only an error when explicit is set.
func Load(getenv func(string) string, path string, explicit bool) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	cfg.applyDerivedDefaults()

	if cfg.Server.Password == "" && cfg.Server.Username != "" && cfg.Server.Type != ServerMPRIS {
		if pw, err := keyring.Get(AppName, cfg.Server.Username); err == nil {
			cfg.Server.Password = pw
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPath(getenv func(string) string) (string, bool) {
	if p := getenv("COVERLED_CONFIG"); p != "" {
		return p, true
	}
	return filepath.Join(configdir.LocalConfig(AppName), configFileName), false
}

func (c *AppConfig) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	r := envReader{getenv: getenv}

	var serverType string
	r.str("COVERLED_SERVER_TYPE", &serverType)
	if serverType != "" {
		c.Server.Type = ServerType(strings.ToLower(serverType))
	}
	if v := getenv("COVERLED_SERVER_URLS"); v != "" {
		c.Server.Endpoints = domain.ParseEndpoints(v)
	}
	r.str("COVERLED_USER", &c.Server.Username)
	r.str("COVERLED_PASSWORD", &c.Server.Password)
	r.str("COVERLED_CLIENT_NAME", &c.Server.ClientName)
	r.integer("COVERLED_HTTP_TIMEOUT_SECONDS", &c.Server.TimeoutSeconds)

	var source string
	r.str("COVERLED_ARTWORK_SOURCE", &source)
	if source != "" {
		c.Artwork.Source = domain.ArtworkKind(strings.ToLower(source))
	}
	r.str("COVERLED_MOUNT_POINT", &c.Artwork.MountPoint)
	r.str("COVERLED_SERVER_PATH_PREFIX", &c.Artwork.ServerPathPrefix)
	r.integer("COVERLED_ARTWORK_SIZE", &c.Artwork.Size)
	r.integer("COVERLED_POLL_SECONDS", &c.PollSeconds)

	r.integer("MATRIX_ROWS", &c.Panel.Rows)
	r.integer("MATRIX_COLS", &c.Panel.Cols)
	r.integer("MATRIX_CHAIN", &c.Panel.ChainLength)
	r.integer("MATRIX_PARALLEL", &c.Panel.Parallel)
	r.integer("MATRIX_BRIGHTNESS", &c.Panel.Brightness)
	r.integer("MATRIX_LIMIT_HZ", &c.Panel.LimitRefreshHz)
	r.integer("MATRIX_GPIO_SLOWDOWN", &c.Panel.GPIOSlowdown)
	r.integer("MATRIX_MULTIPLEXING", &c.Panel.Multiplexing)
	r.str("MATRIX_HARDWARE_MAPPING", &c.Panel.HardwareMapping)

	r.str("COVERLED_DISPLAY", &c.Display.Driver)
	r.str("COVERLED_VIEWER", &c.Display.Viewer)
	r.str("COVERLED_FRAME_DIR", &c.Display.FrameDir)
	r.str("COVERLED_MATTE", &c.Display.Matte)
	r.integer("COVERLED_BLUR_RADIUS", &c.Display.BlurRadius)

	return r.errs
}

// applyDerivedDefaults fills values whose default depends on other settings
func (c *AppConfig) applyDerivedDefaults() {
	if c.Artwork.Source == "" {
		switch c.Server.Type {
		case ServerJellyfin:
			c.Artwork.Source = domain.KindPath
		case ServerMPRIS:
			c.Artwork.Source = domain.KindURL
		default:
			c.Artwork.Source = domain.KindRemote
		}
	}
	if c.Server.Type == ServerMPRIS && len(c.Server.Endpoints) == 0 {
		c.Server.Endpoints = []domain.Endpoint{{Name: "auto", URL: "auto"}}
	}
	c.Display.FrameDir = expandPath(c.Display.FrameDir)
	c.Artwork.MountPoint = expandPath(c.Artwork.MountPoint)

	for i, ep := range c.Server.Endpoints {
		if ep.Name == "" {
			c.Server.Endpoints[i].Name = ep.URL
		}
	}
}

// Validate reports every invalid setting at once
func (c *AppConfig) Validate() error {
	var errs error

	switch c.Server.Type {
	case ServerSubsonic, ServerJellyfin:
		if len(c.Server.Endpoints) == 0 {
			errs = multierr.Append(errs, errors.New("server: at least one endpoint URL is required"))
		}
		for _, ep := range c.Server.Endpoints {
			u, err := url.Parse(ep.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = multierr.Append(errs, fmt.Errorf("server: invalid endpoint URL %q", ep.URL))
			}
		}
		if c.Server.Username == "" {
			errs = multierr.Append(errs, errors.New("server: username is required"))
		}
	case ServerMPRIS:
	default:
		errs = multierr.Append(errs, fmt.Errorf("server: unknown type %q", c.Server.Type))
	}

	switch {
	case c.Server.Type == ServerSubsonic && c.Artwork.Source != domain.KindRemote,
		c.Server.Type == ServerJellyfin && c.Artwork.Source != domain.KindPath && c.Artwork.Source != domain.KindRemote,
		c.Server.Type == ServerMPRIS && c.Artwork.Source != domain.KindURL:
		errs = multierr.Append(errs, fmt.Errorf("artwork: source %q is not supported by %s", c.Artwork.Source, c.Server.Type))
	}

	if c.Server.TimeoutSeconds <= 0 {
		errs = multierr.Append(errs, errors.New("server: timeout must be positive"))
	}
	if c.PollSeconds <= 0 {
		errs = multierr.Append(errs, errors.New("poll interval must be positive"))
	}
	if c.Artwork.Size < 0 {
		errs = multierr.Append(errs, errors.New("artwork: size must not be negative"))
	}

	p := c.Panel
	if p.Rows <= 0 || p.Cols <= 0 || p.ChainLength <= 0 || p.Parallel <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("panel: invalid geometry rows=%d cols=%d chain=%d parallel=%d",
			p.Rows, p.Cols, p.ChainLength, p.Parallel))
	}
	if p.Brightness < 1 || p.Brightness > 100 {
		errs = multierr.Append(errs, fmt.Errorf("panel: brightness %d out of range 1-100", p.Brightness))
	}

	switch c.Display.Driver {
	case DriverViewer, DriverLog:
	default:
		errs = multierr.Append(errs, fmt.Errorf("display: unknown driver %q", c.Display.Driver))
	}
	if _, err := processor.ParseMatte(c.Display.Matte); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("display: %w", err))
	}
	if c.Display.BlurRadius < 0 {
		errs = multierr.Append(errs, errors.New("display: blur radius must not be negative"))
	}

	return errs
}

// PollInterval is the pause between two cycles
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// HTTPTimeout bounds a single media server call
func (c *AppConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// Credentials returns the media server login
func (c *AppConfig) Credentials() domain.Credentials {
	return domain.Credentials{
		Username:   c.Server.Username,
		Password:   c.Server.Password,
		ClientName: c.Server.ClientName,
	}
}

// ArtworkTarget is the exact size artwork is resized to before fitting the panel
func (c *AppConfig) ArtworkTarget() image.Point {
	return image.Pt(c.Artwork.Size, c.Artwork.Size)
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

type envReader struct {
	getenv func(string) string
	errs   error
}

func (r *envReader) str(key string, dst *string) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = multierr.Append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}
