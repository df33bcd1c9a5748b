package main

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// cellWriter is the surface the stats manager needs from a spreadsheet.
// SheetsClient implements it against Google Sheets; tests use an in-memory fake.
type cellWriter interface {
	WriteCell(ctx context.Context, tab, coordinate, value string) error
	WriteColumn(ctx context.Context, tab, coordinate string, values []string) error
	ReadRow(ctx context.Context, tab string, row int) ([]string, error)
	ReadCell(ctx context.Context, tab, coordinate string) (string, error)
}

type SheetsClient struct {
	svc     *sheets.Service
	sheetID string
}

func NewSheetsClient(ctx context.Context, cfg Config) (*SheetsClient, error) {
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &SheetsClient{svc: svc, sheetID: cfg.HealthSheetID}, nil
}

// WriteCell writes a single value. Numeric-looking strings are written as
// numbers so the sheet can chart them.
func (s *SheetsClient) WriteCell(ctx context.Context, tab, coordinate, value string) error {
	rng := fmt.Sprintf("%s!%s", tab, coordinate)
	vr := &sheets.ValueRange{Values: [][]interface{}{{cellValue(value)}}}
	_, err := s.svc.Spreadsheets.Values.Update(s.sheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write cell %s: %w", rng, err)
	}
	log.Printf("sheet write tab=%s cell=%s", tab, coordinate)
	return nil
}

// WriteColumn writes values downward starting at coordinate in one request.
func (s *SheetsClient) WriteColumn(ctx context.Context, tab, coordinate string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(values))
	for i, v := range values {
		rows[i] = []interface{}{cellValue(v)}
	}
	rng := fmt.Sprintf("%s!%s", tab, coordinate)
	vr := &sheets.ValueRange{Values: rows}
	_, err := s.svc.Spreadsheets.Values.Update(s.sheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write column %s: %w", rng, err)
	}
	log.Printf("sheet write tab=%s start=%s rows=%d", tab, coordinate, len(values))
	return nil
}

// ReadRow returns the populated cells of a row, left to right.
func (s *SheetsClient) ReadRow(ctx context.Context, tab string, row int) ([]string, error) {
	rng := fmt.Sprintf("%s!%d:%d", tab, row, row)
	resp, err := s.svc.Spreadsheets.Values.Get(s.sheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read row %s: %w", rng, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(resp.Values[0]))
	for _, v := range resp.Values[0] {
		out = append(out, fmt.Sprintf("%v", v))
	}
	return out, nil
}

func (s *SheetsClient) ReadCell(ctx context.Context, tab, coordinate string) (string, error) {
	rng := fmt.Sprintf("%s!%s", tab, coordinate)
	resp, err := s.svc.Spreadsheets.Values.Get(s.sheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read cell %s: %w", rng, err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%v", resp.Values[0][0]), nil
}

// overwriteCell writes a value and returns whatever the cell held before,
// so manual fixes show what they replaced.
func overwriteCell(ctx context.Context, sheet cellWriter, tab, coordinate, value string) (string, error) {
	previous, err := sheet.ReadCell(ctx, tab, coordinate)
	if err != nil {
		return "", err
	}
	if err := sheet.WriteCell(ctx, tab, coordinate, value); err != nil {
		return "", err
	}
	return previous, nil
}

func cellValue(s string) interface{} {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// columnLetter converts a zero-based column index to A1 letters.
func columnLetter(index int) string {
	letters := ""
	for index >= 0 {
		letters = string(rune('A'+index%26)) + letters
		index = index/26 - 1
	}
	return letters
}
