package backend

import (
	"fmt"
	"time"

	"ventas/internal/config"
)

// BackendType represents the type of row source
type BackendType string

const (
	CSVBackend    BackendType = "csv"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case CSVBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Spreadsheet, shared by csv and sheets
	SheetID string

	// CSV export specific
	ExportBaseURL string
	FetchTimeout  time.Duration

	// Sheets API specific
	CredentialsJSON []byte
	APIKey          string

	// Memory backend specific
	DataDirectory string
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	creds, err := appConfig.ServiceAccountJSON()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Type:            backendType,
		SheetID:         appConfig.SheetID,
		ExportBaseURL:   appConfig.SheetsExportBaseURL,
		FetchTimeout:    appConfig.FetchTimeout,
		CredentialsJSON: creds,
		APIKey:          appConfig.GoogleAPIKey,
		DataDirectory:   appConfig.FixturesDir,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case CSVBackend:
		if c.SheetID == "" {
			return fmt.Errorf("spreadsheet id is required for csv backend")
		}
	case SheetsBackend:
		if c.SheetID == "" {
			return fmt.Errorf("spreadsheet id is required for sheets backend")
		}
		if len(c.CredentialsJSON) == 0 && c.APIKey == "" {
			return fmt.Errorf("service account credentials or an API key must be provided for sheets backend")
		}
	case MemoryBackend:
		// DataDirectory defaults to "data"
	}

	return nil
}
