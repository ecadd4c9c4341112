package external

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fjod/trophythreads/internal/domain"
)

const csvRefPrefix = "csv_"

// CSVSource reads products from a merchandise CSV export. Rows are addressed
// by their zero-based index, as "csv_<n>" or a bare "<n>".
type CSVSource struct {
	path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Lookup(_ context.Context, ref string) (*domain.ExternalSnapshot, error) {
	idx, ok := parseRowRef(ref)
	if !ok {
		return nil, ErrNotFound
	}

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open merchandise csv: %w", err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return nil, err
	}
	if idx >= len(rows) {
		return nil, ErrNotFound
	}

	snap := snapshotFromRow(rows[idx])
	snap.Ref = csvRefPrefix + strconv.Itoa(idx)
	return &snap, nil
}

func parseRowRef(ref string) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimPrefix(ref, csvRefPrefix))
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// readRows maps every data row by its header names.
func readRows(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// snapshotFromRow is lenient: unparsable numbers become zero and the stock
// column may be spelled stock, Stock or stok.
func snapshotFromRow(row map[string]string) domain.ExternalSnapshot {
	name := row["name"]
	if name == "" {
		name = "Unknown"
	}

	var price int64
	if f, err := strconv.ParseFloat(row["price"], 64); err == nil {
		price = int64(f)
	}

	stockRaw := row["stock"]
	if stockRaw == "" {
		stockRaw = row["Stock"]
	}
	if stockRaw == "" {
		stockRaw = row["stok"]
	}
	stock, err := strconv.Atoi(stockRaw)
	if err != nil || stock < 0 {
		stock = 0
	}

	return domain.ExternalSnapshot{
		Name:      name,
		Price:     price,
		Stock:     stock,
		Thumbnail: row["thumbnail"],
	}
}
