// Package csvimport reads companies and tiles from CSV files.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/esnunes/prospector/internal/db"
	"github.com/esnunes/prospector/internal/models"
)

var ErrNoRows = errors.New("no usable rows")

// column aliases, lowercased
var companyColumns = map[string][]string{
	"name":     {"companyname", "company name", "company_name", "name"},
	"url":      {"companyurl", "company url", "company_url", "url", "website"},
	"industry": {"industry"},
	"product":  {"product"},
	"icp":      {"icp", "ideal customer profile"},
	"notes":    {"notes", "description"},
}

var tileColumns = map[string][]string{
	"title":     {"title", "name"},
	"prompt":    {"prompt", "base_prompt", "question"},
	"ex_answer": {"ex_answer", "example answer", "example_answer"},
}

func readAll(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return records, nil
}

// index maps each canonical column to its position in header, or -1.
func index(header []string, columns map[string][]string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idx := make(map[string]int, len(columns))
	for col, aliases := range columns {
		idx[col] = -1
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[col] = i
				break
			}
		}
	}
	return idx
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// Companies reads a CSV with a header row. Rows without a company name are
// skipped.
func Companies(r io.Reader) ([]models.Company, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, ErrNoRows
	}
	idx := index(records[0], companyColumns)
	if idx["name"] < 0 {
		return nil, fmt.Errorf("reading csv: missing company name column")
	}

	var companies []models.Company
	for _, rec := range records[1:] {
		c := models.Company{
			Name:     field(rec, idx["name"]),
			URL:      field(rec, idx["url"]),
			Industry: field(rec, idx["industry"]),
			Product:  field(rec, idx["product"]),
			ICP:      field(rec, idx["icp"]),
			Notes:    field(rec, idx["notes"]),
		}
		if c.Name == "" {
			continue
		}
		companies = append(companies, c)
	}
	if len(companies) == 0 {
		return nil, ErrNoRows
	}
	return companies, nil
}

// Tiles reads title,prompt[,ex_answer] rows. A header row is used when it
// names a prompt column; otherwise columns are positional.
func Tiles(r io.Reader) ([]db.NewTile, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRows
	}

	idx := index(records[0], tileColumns)
	if idx["prompt"] >= 0 {
		records = records[1:]
	} else {
		idx = map[string]int{"title": 0, "prompt": 1, "ex_answer": 2}
	}

	var tiles []db.NewTile
	for _, rec := range records {
		t := db.NewTile{
			Title:      field(rec, idx["title"]),
			BasePrompt: field(rec, idx["prompt"]),
			ExAnswer:   field(rec, idx["ex_answer"]),
		}
		if t.BasePrompt == "" {
			continue
		}
		if t.Title == "" {
			t.Title = fmt.Sprintf("Item %d", len(tiles)+1)
		}
		tiles = append(tiles, t)
	}
	if len(tiles) == 0 {
		return nil, ErrNoRows
	}
	return tiles, nil
}
