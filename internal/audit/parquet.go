package audit

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

type parquetRecord struct {
	TimeUnixMs        int64  `parquet:"time_unix_ms"`
	TraceID           string `parquet:"trace_id"`
	SessionID         string `parquet:"session_id"`
	Question          string `parquet:"question"`
	Outcome           string `parquet:"outcome"`
	Route             string `parquet:"route"`
	SQL               string `parquet:"sql"`
	Result            string `parquet:"result"`
	Explanation       string `parquet:"explanation"`
	Answer            string `parquet:"answer"`
	Error             string `parquet:"error"`
	Warnings          string `parquet:"warnings"`
	RetrievedIDs      string `parquet:"retrieved_ids"`
	RetrievalDegraded bool   `parquet:"retrieval_degraded"`
	Model             string `parquet:"model"`
	PromptTokens      int64  `parquet:"prompt_tokens"`
	OutputTokens      int64  `parquet:"output_tokens"`
	ExecutionTimeMs   int64  `parquet:"execution_time_ms"`
	StagesJSON        string `parquet:"stages_json"`
}

// ReadRecords decodes every JSON line of an audit file, gunzipping when compressed.
// Blank lines are skipped and a malformed line fails the whole file.
func ReadRecords(path string, compressed bool) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var reader io.Reader = file
	if compressed {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open gzip audit file: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	records := make([]Record, 0)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("decode audit line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return records, nil
}

// EncodeParquet flattens records into one parquet file.
func EncodeParquet(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}
	rows := make([]parquetRecord, 0, len(records))
	for _, record := range records {
		stages := ""
		if len(record.StagesMS) > 0 {
			raw, err := json.Marshal(record.StagesMS)
			if err != nil {
				return nil, fmt.Errorf("encode stage timings: %w", err)
			}
			stages = string(raw)
		}
		rows = append(rows, parquetRecord{
			TimeUnixMs:        record.Time.UnixMilli(),
			TraceID:           record.TraceID,
			SessionID:         record.SessionID,
			Question:          record.Question,
			Outcome:           record.Outcome,
			Route:             record.Route,
			SQL:               record.SQL,
			Result:            record.Result,
			Explanation:       record.Explanation,
			Answer:            record.Answer,
			Error:             record.Error,
			Warnings:          strings.Join(record.Warnings, "\n"),
			RetrievedIDs:      strings.Join(record.RetrievedIDs, ","),
			RetrievalDegraded: record.RetrievalDegraded,
			Model:             record.Model,
			PromptTokens:      int64(record.PromptTokens),
			OutputTokens:      int64(record.OutputTokens),
			ExecutionTimeMs:   record.ExecutionTimeMS,
			StagesJSON:        stages,
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
