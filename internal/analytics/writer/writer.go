package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/vcledger/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/vcledger/pkg/bigquery"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the analytics writer behavior.
type Config struct {
	SettlementTable string
	ChainAlertTable string
	BatchSize       int
	RetryPolicy     RetryPolicy
}

// RetryPolicy bounds retries of transient BigQuery insert failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(p.InitialBackoff, defaultMaximumBackoff)
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// batch buffers rows bound for one table.
type batch struct {
	table string
	rows  []any
}

// BigQueryWriter streams export rows into BigQuery. Rows are buffered per
// table until BatchSize is reached; the mutex lets concurrent Pub/Sub
// callbacks share one writer.
type BigQueryWriter struct {
	client    tableInserter
	batchSize int
	retry     RetryPolicy

	mu          sync.Mutex
	settlements batch
	alerts      batch
}

func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	settlement := strings.TrimSpace(cfg.SettlementTable)
	if settlement == "" {
		return nil, errors.New("settlement events table is required")
	}
	alerts := strings.TrimSpace(cfg.ChainAlertTable)
	if alerts == "" {
		return nil, errors.New("chain alerts table is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &BigQueryWriter{
		client:      client,
		batchSize:   batchSize,
		retry:       cfg.RetryPolicy.withDefaults(),
		settlements: batch{table: settlement},
		alerts:      batch{table: alerts},
	}, nil
}

func (w *BigQueryWriter) InsertSettlementEvent(ctx context.Context, row types.SettlementEventRow) error {
	return w.add(ctx, &w.settlements, row)
}

func (w *BigQueryWriter) InsertChainAlert(ctx context.Context, row types.ChainAlertRow) error {
	return w.add(ctx, &w.alerts, row)
}

// Flush writes any buffered rows immediately.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flush(ctx, &w.settlements); err != nil {
		return err
	}
	return w.flush(ctx, &w.alerts)
}

func (w *BigQueryWriter) add(ctx context.Context, b *batch, row cbigquery.ValueSaver) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b.rows = append(b.rows, row)
	if len(b.rows) < w.batchSize {
		return nil
	}
	return w.flush(ctx, b)
}

// flush keeps the buffer on failure so the next flush retries the same rows.
// Insert IDs make the repeat idempotent on the BigQuery side.
func (w *BigQueryWriter) flush(ctx context.Context, b *batch) error {
	if len(b.rows) == 0 {
		return nil
	}
	err := retry.Do(ctx, w.retry.backoff(), func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, b.table, b.rows)
		if err != nil && isRetryableBigQueryError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", b.table, err)
	}
	b.rows = b.rows[:0]
	return nil
}

func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var multi *cbigquery.MultiError
	if errors.As(err, &multi) {
		if multi == nil || len(*multi) == 0 {
			return false
		}
		for _, inner := range *multi {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var pme *cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if pme == nil || len(*pme) == 0 {
			return false
		}
		for _, rowErr := range *pme {
			if !isRetryableBigQueryError(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		if rowErr == nil || len(rowErr.Errors) == 0 {
			return false
		}
		for _, inner := range rowErr.Errors {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return isRetryableHTTPCode(apiErr.Code)
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			return isRetryableGRPCCode(st.Code())
		}
	}

	return false
}

func isRetryableHTTPCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable:
		return true
	default:
		return false
	}
}

// EncodeJSON serializes the provided payload so it can be stored in BigQuery JSON columns.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	case []byte:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	if len(marshaled) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}, nil
}
