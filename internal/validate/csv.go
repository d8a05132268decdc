package validate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
)

// ImportedContact is one accepted row of a recipient CSV.
type ImportedContact struct {
	Name       string            `json:"name"`
	Phone      string            `json:"phone"`
	Labels     []string          `json:"labels,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ImportResult summarises a CSV import. Rejected rows are listed in Errors
// and never fail the import as a whole.
type ImportResult struct {
	Total    int               `json:"total"`
	Imported int               `json:"imported"`
	Skipped  int               `json:"skipped"`
	Errors   []string          `json:"errors,omitempty"`
	Contacts []ImportedContact `json:"-"`
}

func (r *ImportResult) reject(line int, reason string) {
	r.Skipped++
	r.Errors = append(r.Errors, fmt.Sprintf("line %d: %s", line, reason))
}

// ParseRecipientsCSV reads contacts from a CSV whose header contains
// case-insensitive "name" and "phone" columns. An optional "labels" column is
// split on ";"; every other column becomes an attribute keyed by its
// lower-cased header. Phones are normalized with countryCode and validated.
func ParseRecipientsCSV(r io.Reader, countryCode string) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, appErrors.NewValidationError("csv", "file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make([]string, len(header))
	nameIdx, phoneIdx, labelsIdx := -1, -1, -1
	for i, h := range header {
		col := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		columns[i] = col
		switch col {
		case "name":
			nameIdx = i
		case "phone":
			phoneIdx = i
		case "labels":
			labelsIdx = i
		}
	}
	if nameIdx < 0 || phoneIdx < 0 {
		return nil, appErrors.NewValidationError("csv", "header must contain name and phone columns")
	}

	result := &ImportResult{}
	seen := map[string]int{}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			result.Total++
			result.reject(perr.StartLine, perr.Err.Error())
			continue
		}

		result.Total++
		line, _ := reader.FieldPos(0)

		if phoneIdx >= len(record) || nameIdx >= len(record) {
			result.reject(line, "missing name or phone field")
			continue
		}

		phone := NormalizePhoneNumber(record[phoneIdx], countryCode)
		if err := ValidatePhoneNumber(phone, countryCode); err != nil {
			result.reject(line, err.Error())
			continue
		}
		if first, dup := seen[phone]; dup {
			result.reject(line, fmt.Sprintf("duplicate phone %s (first seen on line %d)", phone, first))
			continue
		}
		seen[phone] = line

		contact := ImportedContact{
			Name:  strings.TrimSpace(record[nameIdx]),
			Phone: phone,
		}
		for i, value := range record {
			if i == nameIdx || i == phoneIdx || i >= len(columns) || columns[i] == "" {
				continue
			}
			value = strings.TrimSpace(value)
			if i == labelsIdx {
				contact.Labels = splitLabels(value)
				continue
			}
			if value == "" {
				continue
			}
			if contact.Attributes == nil {
				contact.Attributes = map[string]string{}
			}
			contact.Attributes[columns[i]] = value
		}

		result.Contacts = append(result.Contacts, contact)
		result.Imported++
	}

	return result, nil
}

func splitLabels(raw string) []string {
	var labels []string
	for _, l := range strings.Split(raw, ";") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}
