package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const defaultRecentLimit = 50

// Row is the BigQuery shape of a Record.
type Row struct {
	PassID      string                 `bigquery:"pass_id"`    // REQUIRED
	AccountID   string                 `bigquery:"account_id"` // REQUIRED
	Outcome     string                 `bigquery:"outcome"`
	Observed    float64                `bigquery:"observed"`
	Previous    float64                `bigquery:"previous"`
	AmountMinor int64                  `bigquery:"amount_minor"`
	Error       bigquery.NullString    `bigquery:"error_message"`
	SyncDate    civil.Date             `bigquery:"sync_date"`
	RecordedTS  bigquery.NullTimestamp `bigquery:"recorded_ts"`
}

func toRow(r Record) Row {
	row := Row{
		PassID:      r.PassID,
		AccountID:   r.AccountID,
		Outcome:     string(r.Outcome),
		Observed:    r.Observed,
		Previous:    r.Previous,
		AmountMinor: r.AmountMinor,
		SyncDate:    civil.DateOf(r.RecordedAt),
		RecordedTS:  bigquery.NullTimestamp{Timestamp: r.RecordedAt, Valid: !r.RecordedAt.IsZero()},
	}
	if r.Error != "" {
		row.Error = bigquery.NullString{StringVal: r.Error, Valid: true}
	}
	return row
}

func fromRow(row Row) Record {
	return Record{
		PassID:      row.PassID,
		AccountID:   row.AccountID,
		Outcome:     Outcome(row.Outcome),
		Observed:    row.Observed,
		Previous:    row.Previous,
		AmountMinor: row.AmountMinor,
		Error:       row.Error.StringVal,
		RecordedAt:  row.RecordedTS.Timestamp,
	}
}

// BigQueryRecorder streams records into a BigQuery table.
type BigQueryRecorder struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	tableID   string
}

// NewBigQueryRecorder creates a recorder writing to project.dataset.table.
func NewBigQueryRecorder(ctx context.Context, projectID, datasetID, tableID string) (*BigQueryRecorder, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &BigQueryRecorder{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		tableID:   tableID,
	}, nil
}

// Record inserts one row per record.
func (b *BigQueryRecorder) Record(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRow(r))
	}

	inserter := b.client.Dataset(b.datasetID).Table(b.tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("BigQueryRecorder.Record: inserting rows: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (b *BigQueryRecorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	q := b.client.Query(fmt.Sprintf(`
		SELECT
			pass_id,
			account_id,
			outcome,
			observed,
			previous,
			amount_minor,
			error_message,
			sync_date,
			recorded_ts
		FROM `+"`%s.%s.%s`"+`
		ORDER BY recorded_ts DESC
		LIMIT @limit
	`, b.projectID, b.datasetID, b.tableID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("BigQueryRecorder.Recent: reading query: %w", err)
	}

	var records []Record
	for {
		var row Row
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("BigQueryRecorder.Recent: iterating: %w", err)
		}
		records = append(records, fromRow(row))
	}
	return records, nil
}

// Schema is the table schema inferred from Row.
func Schema() (bigquery.Schema, error) {
	return bigquery.InferSchema(Row{})
}

// EnsureTable creates the dataset and the history table, partitioned by
// sync_date, when they do not exist. It reports whether the table was
// created.
func (b *BigQueryRecorder) EnsureTable(ctx context.Context, location string) (bool, error) {
	dataset := b.client.Dataset(b.datasetID)
	if _, err := dataset.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return false, fmt.Errorf("BigQueryRecorder.EnsureTable: dataset metadata: %w", err)
		}
		if err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: location}); err != nil {
			return false, fmt.Errorf("BigQueryRecorder.EnsureTable: creating dataset: %w", err)
		}
	}

	table := dataset.Table(b.tableID)
	if _, err := table.Metadata(ctx); err == nil {
		return false, nil
	} else if !isNotFound(err) {
		return false, fmt.Errorf("BigQueryRecorder.EnsureTable: table metadata: %w", err)
	}

	schema, err := Schema()
	if err != nil {
		return false, fmt.Errorf("BigQueryRecorder.EnsureTable: inferring schema: %w", err)
	}
	err = table.Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "sync_date",
		},
		Clustering:  &bigquery.Clustering{Fields: []string{"account_id"}},
		Description: "Per-entry outcomes of pension balance sync passes",
	})
	if err != nil {
		return false, fmt.Errorf("BigQueryRecorder.EnsureTable: creating table: %w", err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// Close releases the BigQuery client.
func (b *BigQueryRecorder) Close() error {
	return b.client.Close()
}
