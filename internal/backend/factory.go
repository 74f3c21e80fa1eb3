// Package backend builds the row source selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"ventas/internal/sheets"
	"ventas/internal/sheets/csvexport"
	gsheet "ventas/internal/sheets/google"
	"ventas/internal/sheets/memory"
)

// Factory creates row sources based on configuration
type Factory interface {
	CreateSource(ctx context.Context, config Config) (sheets.RowSource, error)
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateSource implements Factory.CreateSource
func (f *DefaultFactory) CreateSource(ctx context.Context, config Config) (sheets.RowSource, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case CSVBackend:
		return f.createCSVSource(config)
	case SheetsBackend:
		return f.createSheetsSource(ctx, config)
	case MemoryBackend:
		return f.createMemorySource(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createCSVSource(config Config) (sheets.RowSource, error) {
	client, err := csvexport.New(csvexport.NewHTTPClient(config.FetchTimeout), config.ExportBaseURL, config.SheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheet export client: %w", err)
	}
	f.logger.Info("Initialized public CSV export backend", "sheet_id", config.SheetID)
	return client, nil
}

func (f *DefaultFactory) createSheetsSource(ctx context.Context, config Config) (sheets.RowSource, error) {
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.SheetID,
		CredentialsJSON: config.CredentialsJSON,
		APIKey:          config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets API backend", "sheet_id", config.SheetID)
	return client, nil
}

func (f *DefaultFactory) createMemorySource(config Config) (sheets.RowSource, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return memory.NewFromFiles(dataDir), nil
}
