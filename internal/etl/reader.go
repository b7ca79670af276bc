package etl

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Reader yields input records in batches. An empty batch means end of input.
type Reader interface {
	Read(max int) ([]*Record, error)
	Close() error
}

// OpenReader opens filePath with the reader for its extension.
func OpenReader(filePath string, logger *zap.Logger) (Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	var r Reader
	switch DetectFileFormat(filePath) {
	case FormatParquet:
		r, err = newParquetReader(file)
	case FormatJSONL:
		r, err = newJSONLReader(file, logger)
	default:
		r, err = newCSVReader(file, logger)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// rowNumber hands out default ids for records that carry none.
type rowNumber int64

func (n *rowNumber) assign(rec *Record) {
	*n++
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = strconv.FormatInt(int64(*n), 10)
	}
}

type csvReader struct {
	file   *os.File
	reader *csv.Reader
	textAt int
	idAt   int
	rows   rowNumber
	logger *zap.Logger
}

// newCSVReader needs a header row with a text column and an optional id column.
func newCSVReader(file *os.File, logger *zap.Logger) (*csvReader, error) {
	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	reader.FieldsPerRecord = len(header)

	r := &csvReader{file: file, reader: reader, textAt: -1, idAt: -1, logger: logger}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "text":
			r.textAt = i
		case "id":
			r.idAt = i
		}
	}
	if r.textAt < 0 {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}
	logger.Info("CSV header detected", zap.Strings("columns", header))
	return r, nil
}

func (r *csvReader) Read(max int) ([]*Record, error) {
	var batch []*Record
	for len(batch) < max {
		row, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.logger.Warn("Failed to read CSV record", zap.Error(err))
				r.rows++
				continue
			}
			return batch, err
		}

		rec := &Record{Text: row[r.textAt]}
		if r.idAt >= 0 {
			rec.ID = strings.TrimSpace(row[r.idAt])
		}
		r.rows.assign(rec)
		batch = append(batch, rec)
	}
	return batch, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}

type jsonlReader struct {
	file    *os.File
	scanner *bufio.Scanner
	rows    rowNumber
	logger  *zap.Logger
}

func newJSONLReader(file *os.File, logger *zap.Logger) (*jsonlReader, error) {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &jsonlReader{file: file, scanner: scanner, logger: logger}, nil
}

// Read accepts string or numeric ids; malformed lines are skipped.
func (r *jsonlReader) Read(max int) ([]*Record, error) {
	var batch []*Record
	for len(batch) < max && r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			r.logger.Warn("Failed to read JSON record", zap.Int64("row", int64(r.rows)+1))
			r.rows++
			continue
		}
		fields := gjson.GetMany(line, "id", "text")
		rec := &Record{ID: fields[0].String(), Text: fields[1].String()}
		r.rows.assign(rec)
		batch = append(batch, rec)
	}
	if err := r.scanner.Err(); err != nil {
		return batch, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return batch, nil
}

func (r *jsonlReader) Close() error {
	return r.file.Close()
}

type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
	rows   rowNumber
}

func newParquetReader(file *os.File) (*parquetReader, error) {
	return &parquetReader{file: file, reader: parquet.NewReader(file)}, nil
}

func (r *parquetReader) Read(max int) ([]*Record, error) {
	var batch []*Record
	for len(batch) < max {
		var rec Record
		err := r.reader.Read(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return batch, fmt.Errorf("failed to read Parquet record: %w", err)
		}
		r.rows.assign(&rec)
		batch = append(batch, &rec)
	}
	return batch, nil
}

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}
