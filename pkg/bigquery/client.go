package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec describes an export table. Tables are day-partitioned on
// PartitionField when it is set.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

// Client streams analytics rows into one dataset.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	logg    *logger.Logger
}

// NewClient connects and checks that the dataset exists. Tables are
// provisioned separately through EnsureTables.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	if len(configuredTables(cfg)) == 0 {
		return nil, errTableNameRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{client: bq, dataset: bq.Dataset(datasetID), logg: logg}

	mdCtx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(mdCtx); err != nil {
		_ = bq.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("dataset %s.%s does not exist", projectID, datasetID)
		}
		return nil, fmt.Errorf("checking dataset %s: %w", datasetID, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"bq_project": projectID, "bq_dataset": datasetID}), "bigquery client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func configuredTables(cfg config.BigQueryConfig) []string {
	var tables []string
	for _, name := range []string{cfg.SettlementEventsTable, cfg.ChainAlertsTable} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			tables = append(tables, trimmed)
		}
	}
	return tables
}

// EnsureTables creates any table in specs that does not exist yet. Existing
// tables are left untouched; schema drift is not reconciled.
func (c *Client) EnsureTables(ctx context.Context, specs ...TableSpec) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return errTableNameRequired
		}
		table := c.dataset.Table(name)
		_, err := table.Metadata(ctx)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("checking table %s: %w", name, err)
		}
		if err := table.Create(ctx, tableMetadata(spec)); err != nil {
			return fmt.Errorf("creating table %s: %w", name, err)
		}
		if c.logg != nil {
			c.logg.Info(c.logg.WithField(ctx, "bq_table", name), "bigquery table created")
		}
	}
	return nil
}

func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	md := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		md.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: spec.PartitionField}
	}
	return md
}

// InsertRows streams rows into table. Rows may implement bigquery.ValueSaver.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
