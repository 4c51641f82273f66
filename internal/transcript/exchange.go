package transcript

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Exchange is one answered (or failed) /chat request.
type Exchange struct {
	ID        string
	TraceID   string
	ClientID  string
	Question  string
	Answer    string
	SQL       []string
	ToolCalls int
	ModelRuns int
	Duration  time.Duration
	Status    string
	Error     string
	CreatedAt time.Time
}

type parquetExchange struct {
	ID              string   `parquet:"id"`
	TraceID         string   `parquet:"trace_id"`
	ClientID        string   `parquet:"client_id"`
	Question        string   `parquet:"question"`
	Answer          string   `parquet:"answer"`
	SQLStatements   []string `parquet:"sql_statements,list"`
	ToolCalls       int32    `parquet:"tool_calls"`
	ModelRuns       int32    `parquet:"model_runs"`
	DurationMs      int64    `parquet:"duration_ms"`
	Status          string   `parquet:"status"`
	Error           string   `parquet:"error"`
	CreatedAtUnixMs int64    `parquet:"created_at_unix_ms"`
}

// EncodeParquet writes exchanges as a single parquet file.
func EncodeParquet(exchanges []Exchange) ([]byte, error) {
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("exchanges are required")
	}
	rows := make([]parquetExchange, 0, len(exchanges))
	for _, exchange := range exchanges {
		rows = append(rows, parquetExchange{
			ID:              exchange.ID,
			TraceID:         exchange.TraceID,
			ClientID:        exchange.ClientID,
			Question:        exchange.Question,
			Answer:          exchange.Answer,
			SQLStatements:   exchange.SQL,
			ToolCalls:       int32(exchange.ToolCalls),
			ModelRuns:       int32(exchange.ModelRuns),
			DurationMs:      exchange.Duration.Milliseconds(),
			Status:          exchange.Status,
			Error:           exchange.Error,
			CreatedAtUnixMs: exchange.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetExchange](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a file produced by EncodeParquet.
func DecodeParquet(data []byte) ([]Exchange, error) {
	rows, err := parquet.Read[parquetExchange](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	exchanges := make([]Exchange, 0, len(rows))
	for _, row := range rows {
		exchanges = append(exchanges, Exchange{
			ID:        row.ID,
			TraceID:   row.TraceID,
			ClientID:  row.ClientID,
			Question:  row.Question,
			Answer:    row.Answer,
			SQL:       row.SQLStatements,
			ToolCalls: int(row.ToolCalls),
			ModelRuns: int(row.ModelRuns),
			Duration:  time.Duration(row.DurationMs) * time.Millisecond,
			Status:    row.Status,
			Error:     row.Error,
			CreatedAt: time.UnixMilli(row.CreatedAtUnixMs).UTC(),
		})
	}
	return exchanges, nil
}
