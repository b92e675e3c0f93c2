package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissing is returned when a setting required by an operation is empty.
	ErrMissing = errors.New("missing required configuration")

	// ErrDeprecatedAuth is returned when the removed basic-auth settings are present.
	ErrDeprecatedAuth = errors.New("UI_USER/UI_PASSWORD authentication has been removed; configure session auth via ACTUAL_PASSWORD")
)

const (
	DefaultCodeTimeout    = 60 * time.Second
	DefaultHTTPPort       = 3000
	DefaultSyncCron       = "45 * * * *"
	DefaultAuthCookieName = "actual-auth"
	DefaultDataDir        = "./data"
	DefaultHistoryDataset = "pension"
	DefaultHistoryTable   = "sync_history"
)

// configFiles are tried in order; the first one present wins. JSON is a
// subset of YAML so a single decoder handles all three.
var configFiles = []string{"config.yaml", "config.yml", "config.json"}

// Landg holds the Legal & General portal settings.
type Landg struct {
	Email          string
	Password       string
	CookiesFile    string
	CodeTimeout    time.Duration
	UserAgent      string
	DisableSandbox bool
	ExecPath       string

	// Headful shows the browser window. Set from the -debug flag.
	Headful bool
}

// Actual holds the Actual Budget connection settings.
type Actual struct {
	ServerURL          string
	Password           string
	APIKey             string
	SyncID             string
	EncryptionPassword string
}

// Config is the fully resolved service configuration.
type Config struct {
	MappingFile string
	DataDir     string

	Landg  Landg
	Actual Actual

	Mode           string
	HTTPPort       int
	SyncCron       string
	AuthCookieName string
	UIAuthEnabled  bool
	SSLKey         string
	SSLCert        string

	GCPProject     string
	HistoryDataset string
	HistoryTable   string
	NotionToken    string
	NotionDBID     string
	GeminiModel    string

	LogLevel string
}

// LookupFunc resolves a single key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load resolves configuration from dir (config file and .env) and the process
// environment. Environment wins over .env, which wins over the config file.
func Load(dir string) (*Config, error) {
	return LoadWith(dir, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(dir string, env LookupFunc) (*Config, error) {
	fileValues, err := readConfigFile(dir)
	if err != nil {
		return nil, err
	}

	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	get := func(key string) string {
		if v, ok := env(key); ok && v != "" {
			return v
		}
		if v, ok := dotenv[key]; ok && v != "" {
			return v
		}
		return fileValues[key]
	}

	if get("UI_USER") != "" || get("UI_PASSWORD") != "" {
		return nil, ErrDeprecatedAuth
	}

	cfg := &Config{
		DataDir: orDefault(get("DATA_DIR"), DefaultDataDir),
		Landg: Landg{
			Email:          get("LANDG_EMAIL"),
			Password:       get("LANDG_PASSWORD"),
			CookiesFile:    get("LANDG_COOKIES_FILE"),
			CodeTimeout:    parseSeconds(get("LANDG_2FA_TIMEOUT"), DefaultCodeTimeout),
			UserAgent:      get("LANDG_USER_AGENT"),
			DisableSandbox: get("CHROME_DISABLE_SANDBOX") != "",
			ExecPath:       orDefault(get("PUPPETEER_EXECUTABLE_PATH"), get("CHROME_PATH")),
		},
		Actual: Actual{
			ServerURL:          strings.TrimRight(get("ACTUAL_SERVER_URL"), "/"),
			Password:           get("ACTUAL_PASSWORD"),
			APIKey:             get("ACTUAL_API_KEY"),
			SyncID:             orDefault(get("ACTUAL_SYNC_ID"), get("ACTUAL_BUDGET_ID")),
			EncryptionPassword: get("ACTUAL_BUDGET_ENCRYPTION_PASSWORD"),
		},
		Mode:           orDefault(get("MODE"), "sync"),
		HTTPPort:       parseInt(get("HTTP_PORT"), DefaultHTTPPort),
		SyncCron:       orDefault(get("SYNC_CRON"), DefaultSyncCron),
		AuthCookieName: orDefault(strings.TrimSpace(get("AUTH_COOKIE_NAME")), DefaultAuthCookieName),
		UIAuthEnabled:  parseBool(get("UI_AUTH_ENABLED"), true),
		SSLKey:         get("SSL_KEY"),
		SSLCert:        get("SSL_CERT"),
		GCPProject:     get("GCP_PROJECT"),
		HistoryDataset: orDefault(get("HISTORY_DATASET"), DefaultHistoryDataset),
		HistoryTable:   orDefault(get("HISTORY_TABLE"), DefaultHistoryTable),
		NotionToken:    get("NOTION_TOKEN"),
		NotionDBID:     get("NOTION_HISTORY_DB_ID"),
		GeminiModel:    get("GEMINI_MODEL"),
		LogLevel:       get("LOG_LEVEL"),
	}

	cfg.MappingFile = get("MAPPING_FILE")
	if cfg.MappingFile == "" {
		cfg.MappingFile = filepath.Join(cfg.DataDir, "mapping.json")
	}

	return cfg, nil
}

// RequireLedger checks the settings needed to open the budget.
func (c *Config) RequireLedger() error {
	return requireAll(map[string]string{
		"ACTUAL_SERVER_URL": c.Actual.ServerURL,
		"ACTUAL_SYNC_ID":    c.Actual.SyncID,
	})
}

// RequireCredentials checks the portal login settings.
func (c *Config) RequireCredentials() error {
	return requireAll(map[string]string{
		"LANDG_EMAIL":    c.Landg.Email,
		"LANDG_PASSWORD": c.Landg.Password,
	})
}

// UIAuthActive reports whether the web UI is gated behind the session login.
func (c *Config) UIAuthActive() bool {
	return c.UIAuthEnabled && c.Actual.Password != ""
}

func requireAll(values map[string]string) error {
	var missing []string
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
}

func readConfigFile(dir string) (map[string]string, error) {
	for _, name := range configFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", name, err)
		}

		raw := map[string]interface{}{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", name, err)
		}

		values := make(map[string]string, len(raw))
		for k, v := range raw {
			if v == nil {
				continue
			}
			values[k] = fmt.Sprint(v)
		}
		return values, nil
	}
	return map[string]string{}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func parseSeconds(s string, def time.Duration) time.Duration {
	n := parseInt(s, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}
