package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// readPrices reads a closing-price series. The input is either a CSV with a
// header row containing a "close" column, or one number per line.
func readPrices(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	column := 0
	var prices []float64
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		if line == 1 {
			if idx, ok := headerColumn(record); ok {
				column = idx
				continue
			}
		}
		if column >= len(record) {
			return nil, fmt.Errorf("line %d: missing close column", line)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[column]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		prices = append(prices, v)
	}

	if len(prices) == 0 {
		return nil, errors.New("no prices found")
	}
	return prices, nil
}

// headerColumn reports whether record is a header row and where its close column is
func headerColumn(record []string) (int, bool) {
	if _, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64); err == nil {
		return 0, false
	}
	for i, name := range record {
		if strings.EqualFold(strings.TrimSpace(name), "close") {
			return i, true
		}
	}
	// a header without a close column; the first column is the price
	return 0, true
}

func readPricesFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	prices, err := readPrices(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prices, nil
}
