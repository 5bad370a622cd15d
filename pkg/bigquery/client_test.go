package bigquery

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/projectrefill/refill-backend/pkg/config"
)

type exportRow struct {
	EventID    string    `bigquery:"event_id"`
	Delta      int64     `bigquery:"delta"`
	OccurredAt time.Time `bigquery:"occurred_at"`
}

func (r exportRow) InsertID() string { return r.EventID }

type plainRow struct {
	Name string `bigquery:"name"`
}

func TestInferSchemas(t *testing.T) {
	schemas, err := inferSchemas([]Table{
		{Name: " drift ", Row: exportRow{}},
		{Name: "", Row: plainRow{}},
	})
	if err != nil {
		t.Fatalf("inferSchemas: %v", err)
	}
	if len(schemas) != 1 {
		t.Fatalf("expected unnamed tables to be dropped, got %d schemas", len(schemas))
	}
	schema := schemas["drift"]
	if len(schema) != 3 || schema[0].Name != "event_id" || schema[2].Type != bigquery.TimestampFieldType {
		t.Fatalf("unexpected schema %+v", schema)
	}

	if _, err := inferSchemas([]Table{{Name: "drift"}}); err == nil {
		t.Fatal("expected error for table without row type")
	}
	if _, err := inferSchemas(nil); !errors.Is(err, errNoTables) {
		t.Fatalf("expected errNoTables, got %v", err)
	}
}

func TestTableMetadataPartitioning(t *testing.T) {
	schemas, err := inferSchemas([]Table{{Name: "drift", Row: exportRow{}}})
	if err != nil {
		t.Fatalf("inferSchemas: %v", err)
	}
	meta := tableMetadata(schemas["drift"], "occurred_at")
	if meta.TimePartitioning == nil || meta.TimePartitioning.Field != "occurred_at" {
		t.Fatalf("expected day partitioning on occurred_at, got %+v", meta.TimePartitioning)
	}
	if tableMetadata(schemas["drift"], "").TimePartitioning != nil {
		t.Fatal("expected no partitioning without a field")
	}
}

func TestSaversUseInsertIDForKeyedRows(t *testing.T) {
	out := savers(nil, []any{exportRow{EventID: "evt-1"}, plainRow{Name: "x"}})
	if len(out) != 2 {
		t.Fatalf("expected 2 savers, got %d", len(out))
	}
	if out[0].InsertID != "evt-1" {
		t.Fatalf("expected insert id evt-1, got %q", out[0].InsertID)
	}
	if out[1].InsertID != "" {
		t.Fatalf("expected empty insert id for unkeyed row, got %q", out[1].InsertID)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	tables := []Table{{Name: "drift", Row: exportRow{}}}
	if _, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "d"}, tables, nil); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{}, tables, nil); !errors.Is(err, errDatasetRequired) {
		t.Fatalf("expected dataset error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "d"}, nil, nil); !errors.Is(err, errNoTables) {
		t.Fatalf("expected tables error, got %v", err)
	}
}

func TestInsertRowsOnNilClient(t *testing.T) {
	var c *Client
	if err := c.InsertRows(context.Background(), "drift", []any{exportRow{}}); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestInsertRowsRejectsUnregisteredTable(t *testing.T) {
	c := &Client{client: &bigquery.Client{}, schemas: map[string]bigquery.Schema{}}
	if err := c.InsertRows(context.Background(), "other", []any{exportRow{}}); err == nil {
		t.Fatal("expected error for unregistered table")
	}
}

func TestClientOptions(t *testing.T) {
	cases := []struct {
		name string
		gcp  config.GCPConfig
		want int
	}{
		{"json wins", config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds"}, 1},
		{"file", config.GCPConfig{ApplicationCredentials: "/tmp/creds"}, 1},
		{"ambient", config.GCPConfig{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(clientOptions(tc.gcp)); got != tc.want {
				t.Fatalf("expected %d options, got %d", tc.want, got)
			}
		})
	}
}
