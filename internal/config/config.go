package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	envunlocker "github.com/ArkLabsHQ/deadman/internal/infrastructure/unlocker/env"
	fileunlocker "github.com/ArkLabsHQ/deadman/internal/infrastructure/unlocker/file"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	"github.com/ArkLabsHQ/deadman/utils"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

type Config struct {
	Datadir          string
	LogLevel         uint32
	Network          string
	EsploraURL       string
	Proxy            string
	Retry            int
	Timeout          uint32
	FeeRate          float64
	Timelock         uint32
	GapLimit         uint32
	HTTPPort         uint32
	WatchInterval    uint32
	UnlockerType     string
	UnlockerFilePath string
	UnlockerPassword string

	unlocker ports.Unlocker
}

var (
	Datadir       = "DATADIR"
	LogLevel      = "LOG_LEVEL"
	Network       = "NETWORK"
	EsploraURL    = "ESPLORA_URL"
	Proxy         = "PROXY"
	Retry         = "RETRY"
	Timeout       = "TIMEOUT"
	FeeRate       = "FEE_RATE"
	Timelock      = "TIMELOCK"
	GapLimit      = "GAP_LIMIT"
	HTTPPort      = "HTTP_PORT"
	WatchInterval = "WATCH_INTERVAL"

	// Unlocker configuration
	UnlockerType     = "UNLOCKER_TYPE"
	UnlockerFilePath = "UNLOCKER_FILE_PATH"
	UnlockerPassword = "UNLOCKER_PASSWORD"

	defaultDatadir       = appDatadir("deadman", false)
	defaultLogLevel      = 4
	defaultNetwork       = "regtest"
	defaultRetry         = 10
	defaultTimeout       = 100
	defaultFeeRate       = 5.0
	defaultTimelock      = stash.DefaultTimelock
	defaultGapLimit      = 20
	defaultHTTPPort      = 7001
	defaultWatchInterval = 60

	networks = map[string]*chaincfg.Params{
		"bitcoin": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
	}
	defaultEsploraURLs = map[string]string{
		"bitcoin": "https://blockstream.info/api",
		"testnet": "https://blockstream.info/testnet/api",
		"signet":  "https://mempool.space/signet/api",
		"regtest": "http://localhost:3000",
	}
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("DEADMAN")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(Retry, defaultRetry)
	viper.SetDefault(Timeout, defaultTimeout)
	viper.SetDefault(FeeRate, defaultFeeRate)
	viper.SetDefault(Timelock, defaultTimelock)
	viper.SetDefault(GapLimit, defaultGapLimit)
	viper.SetDefault(HTTPPort, defaultHTTPPort)
	viper.SetDefault(WatchInterval, defaultWatchInterval)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	config := &Config{
		Datadir:          cleanAndExpandPath(viper.GetString(Datadir)),
		LogLevel:         viper.GetUint32(LogLevel),
		Network:          strings.ToLower(viper.GetString(Network)),
		EsploraURL:       viper.GetString(EsploraURL),
		Proxy:            viper.GetString(Proxy),
		Retry:            viper.GetInt(Retry),
		Timeout:          viper.GetUint32(Timeout),
		FeeRate:          viper.GetFloat64(FeeRate),
		Timelock:         viper.GetUint32(Timelock),
		GapLimit:         viper.GetUint32(GapLimit),
		HTTPPort:         viper.GetUint32(HTTPPort),
		WatchInterval:    viper.GetUint32(WatchInterval),
		UnlockerType:     viper.GetString(UnlockerType),
		UnlockerFilePath: cleanAndExpandPath(viper.GetString(UnlockerFilePath)),
		UnlockerPassword: viper.GetString(UnlockerPassword),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the config and fills the esplora url with the default one
// of the network if missing. It must be called again after overriding any
// field.
func (c *Config) Validate() error {
	if _, ok := networks[c.Network]; !ok {
		return fmt.Errorf(
			"unknown network %s, please select one of %s", c.Network, strings.Join(networkNames(), ","),
		)
	}
	if len(c.EsploraURL) <= 0 {
		c.EsploraURL = defaultEsploraURLs[c.Network]
	}
	if !utils.IsValidURL(c.EsploraURL) {
		return fmt.Errorf("invalid esplora url %s", c.EsploraURL)
	}
	if len(c.Proxy) > 0 && !utils.IsValidProxy(c.Proxy) {
		return fmt.Errorf("invalid proxy %s, must be a socks5 url", c.Proxy)
	}
	if c.Retry < 0 {
		return fmt.Errorf("retry must not be negative")
	}
	if c.Timeout == 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("fee rate must not be negative")
	}
	if c.Timelock == 0 || c.Timelock > stash.MaxTimelock {
		return fmt.Errorf("timelock must be in range [1, %d] blocks", stash.MaxTimelock)
	}
	if c.LogLevel > 6 {
		return fmt.Errorf("log level must be in range [0, 6]")
	}

	return c.initUnlockerService()
}

// NetworkParams returns the chain params of the configured network.
func (c *Config) NetworkParams() *chaincfg.Params {
	if net, ok := networks[c.Network]; ok {
		return net
	}
	return networks[defaultNetwork]
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) DbDir() string {
	return filepath.Join(c.Datadir, c.Network, "db")
}

func (c *Config) UnlockerService() ports.Unlocker {
	return c.unlocker
}

func (c *Config) initUnlockerService() error {
	if len(c.UnlockerType) <= 0 {
		return nil
	}

	var svc ports.Unlocker
	var err error
	switch c.UnlockerType {
	case "file":
		svc, err = fileunlocker.NewService(c.UnlockerFilePath)
	case "env":
		svc, err = envunlocker.NewService(c.UnlockerPassword)
	default:
		err = fmt.Errorf("unknown unlocker type")
	}
	if err != nil {
		return err
	}
	c.unlocker = svc
	return nil
}

func networkNames() []string {
	return []string{"bitcoin", "testnet", "signet", "regtest"}
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// appDataDir returns an operating system specific directory to be used for
// storing application data for an application.  See AppDataDir for more
// details.  This unexported version takes an operating system argument
// primarily to enable the testing package to properly test the function by
// forcing an operating system that is not the currently one.
func appDatadir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}

	// The caller really shouldn't prepend the appName with a period, but
	// if they do, handle it gracefully by trimming it.
	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	// Get the OS specific home directory via the Go standard lib.
	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}

	// Fall back to standard HOME environment variable that works
	// for most POSIX OSes if the directory from the Go standard
	// lib failed.
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	goos := runtime.GOOS
	switch goos {
	// Attempt to use the LOCALAPPDATA or APPDATA environment variable on
	// Windows.
	case "windows":
		// Windows XP and before didn't have a LOCALAPPDATA, so fallback
		// to regular APPDATA when LOCALAPPDATA is not set.
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}

		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appNameUpper)
		}

	case "plan9":
		if homeDir != "" {
			return filepath.Join(homeDir, appNameLower)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appNameLower)
		}
	}

	// Fall back to the current directory if all else fails.
	return "."
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
