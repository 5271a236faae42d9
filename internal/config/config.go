package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultFile is looked up in the current directory first, then under
// $HOME/.config/canvassync/.
const DefaultFile = ".canvassync.toml"

// Canvas configures the source platform.
type Canvas struct {
	BaseURL               string  `toml:"base_url"`
	Token                 string  `toml:"token"`
	CourseIDs             []int64 `toml:"course_ids"`
	DaysAhead             int     `toml:"days_ahead"`
	IncludeCalendarEvents bool    `toml:"include_calendar_events"`
}

// Google configures the Google Calendar destination and OAuth client.
type Google struct {
	CalendarID   string `toml:"calendar_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenFile    string `toml:"token_file"`
}

// CalDAV configures the alternative CalDAV destination.
type CalDAV struct {
	Endpoint     string `toml:"endpoint"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	CalendarName string `toml:"calendar_name"`
}

// Config is the full application configuration.
type Config struct {
	Destination string `toml:"destination"` // "google" (default) or "caldav"
	Canvas      Canvas `toml:"canvas"`
	Google      Google `toml:"google"`
	CalDAV      CalDAV `toml:"caldav"`
}

// Load reads the TOML config file and applies environment overrides.
// A missing file is not an error: everything can come from the environment.
func Load(filename string) (*Config, error) {
	cfg := &Config{
		Destination: "google",
		Canvas: Canvas{
			BaseURL:   "https://canvas.instructure.com/api/v1",
			DaysAhead: 30,
		},
		Google: Google{
			CalendarID: "primary",
			TokenFile:  "token.json",
		},
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if home := os.Getenv("HOME"); home != "" {
			data, err = os.ReadFile(home + "/.config/canvassync/" + filename)
		}
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets environment variables override file values, matching the
// precedence the auth command documents.
func applyEnv(cfg *Config) {
	setString(&cfg.Destination, "CANVASSYNC_DESTINATION")
	setString(&cfg.Canvas.BaseURL, "CANVAS_API_URL")
	setString(&cfg.Canvas.Token, "CANVAS_API_TOKEN")
	setString(&cfg.Google.CalendarID, "GOOGLE_CALENDAR_ID")
	setString(&cfg.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.Google.TokenFile, "GOOGLE_TOKEN_FILE")
	setString(&cfg.CalDAV.Endpoint, "CALDAV_ENDPOINT")
	setString(&cfg.CalDAV.Username, "CALDAV_USERNAME")
	setString(&cfg.CalDAV.Password, "CALDAV_PASSWORD")
	setString(&cfg.CalDAV.CalendarName, "CALDAV_CALENDAR_NAME")

	if v := os.Getenv("CANVAS_DAYS_AHEAD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Canvas.DaysAhead = n
		}
	}
	if v := os.Getenv("CANVAS_COURSE_IDS"); v != "" {
		var ids []int64
		for _, part := range strings.Split(v, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			cfg.Canvas.CourseIDs = ids
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	if c.Canvas.Token == "" {
		return fmt.Errorf("canvas API token not set (CANVAS_API_TOKEN or canvas.token in %s)", DefaultFile)
	}
	if c.Canvas.BaseURL == "" {
		return fmt.Errorf("canvas base URL not set")
	}
	switch c.Destination {
	case "google":
		// CalendarID defaults to "primary", nothing more to check here.
	case "caldav":
		if c.CalDAV.Endpoint == "" || c.CalDAV.Username == "" {
			return fmt.Errorf("caldav destination selected but endpoint/username not configured")
		}
	default:
		return fmt.Errorf("unknown destination %q (want \"google\" or \"caldav\")", c.Destination)
	}
	return nil
}
