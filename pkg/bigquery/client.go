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

	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errDatasetRequired   = errors.New("bigquery dataset is required")
	errNoTables          = errors.New("at least one export table is required")
	errNotInitialized    = errors.New("bigquery client not initialized")
)

// Table describes one export table. Row is a zero value of the struct written
// to it; its bigquery tags define the schema.
type Table struct {
	Name           string
	Row            any
	PartitionField string
}

// Keyed rows carry a stable insert ID so BigQuery drops retried inserts.
type Keyed interface {
	InsertID() string
}

// Client writes export rows into one dataset.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	schemas map[string]bigquery.Schema
	tables  []Table
}

// NewClient connects to the configured dataset and checks every table. When
// cfg.CreateTables is set, missing tables are created from their row schema.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, tables []Table, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	schemas, err := inferSchemas(tables)
	if err != nil {
		return nil, err
	}

	bq, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	c := &Client{
		client:  bq,
		dataset: bq.Dataset(datasetID),
		schemas: schemas,
		tables:  tables,
	}
	created, err := c.prepare(ctx, cfg.CreateTables)
	if err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset":        datasetID,
			"tables":         len(tables),
			"tables_created": created,
		}), "bigquery export ready")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// inferSchemas drops unnamed tables and rejects rows BigQuery cannot map.
func inferSchemas(tables []Table) (map[string]bigquery.Schema, error) {
	schemas := make(map[string]bigquery.Schema, len(tables))
	for _, table := range tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			continue
		}
		if table.Row == nil {
			return nil, fmt.Errorf("table %q has no row type", name)
		}
		schema, err := bigquery.InferSchema(table.Row)
		if err != nil {
			return nil, fmt.Errorf("infer schema for %q: %w", name, err)
		}
		schemas[name] = schema
	}
	if len(schemas) == 0 {
		return nil, errNoTables
	}
	return schemas, nil
}

func (c *Client) prepare(ctx context.Context, create bool) ([]string, error) {
	if c == nil || c.dataset == nil {
		return nil, errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return nil, fmt.Errorf("read dataset %q: %w", c.dataset.DatasetID, err)
	}

	var created []string
	for _, table := range c.tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			continue
		}
		ref := c.dataset.Table(name)
		_, err := ref.Metadata(ctx)
		switch {
		case err == nil:
			continue
		case !isNotFound(err):
			return nil, fmt.Errorf("read table %q: %w", name, err)
		case !create:
			return nil, fmt.Errorf("table %q does not exist", name)
		}
		if err := ref.Create(ctx, tableMetadata(c.schemas[name], table.PartitionField)); err != nil {
			return nil, fmt.Errorf("create table %q: %w", name, err)
		}
		created = append(created, name)
	}
	return created, nil
}

func tableMetadata(schema bigquery.Schema, partitionField string) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: schema}
	if partitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: partitionField,
		}
	}
	return meta
}

// Ping re-reads the dataset and table metadata without creating anything.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.prepare(ctx, false)
	return err
}

// InsertRows streams rows into table. Keyed rows are deduplicated by their
// insert ID; a partial failure reports how many rows were rejected.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	table = strings.TrimSpace(table)
	schema, ok := c.schemas[table]
	if !ok {
		return fmt.Errorf("table %q is not registered for export", table)
	}
	if len(rows) == 0 {
		return nil
	}

	err := c.dataset.Table(table).Inserter().Put(ctx, savers(schema, rows))
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) && len(multi) > 0 {
		return fmt.Errorf("%d of %d rows rejected by %s: %w", len(multi), len(rows), table, multi[0].Errors)
	}
	return err
}

func savers(schema bigquery.Schema, rows []any) []*bigquery.StructSaver {
	out := make([]*bigquery.StructSaver, 0, len(rows))
	for _, row := range rows {
		saver := &bigquery.StructSaver{Schema: schema, Struct: row}
		if keyed, ok := row.(Keyed); ok {
			saver.InsertID = keyed.InsertID()
		}
		out = append(out, saver)
	}
	return out
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
