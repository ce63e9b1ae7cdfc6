// Package identifiers reads project identifiers from a CSV export.
package identifiers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonathan/permit-collector/internal/types"
)

// DefaultColumn is the identifier column of the project export
const DefaultColumn = "SCH Number"

// ColumnError represents a header without the requested column
type ColumnError struct {
	Column string
	Header []string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q not found in header %v", e.Column, e.Header)
}

// Read returns the values of column in file order. The column is matched after
// trimming, ignoring case; an empty column means DefaultColumn.
func Read(r io.Reader, column string) ([]types.ProjectIdentifier, error) {
	if strings.TrimSpace(column) == "" {
		column = DefaultColumn
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ColumnError{Column: column}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx := -1
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(column)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &ColumnError{Column: column, Header: header}
	}

	var ids []types.ProjectIdentifier
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if idx >= len(record) {
			ids = append(ids, "")
			continue
		}
		ids = append(ids, types.ProjectIdentifier(strings.TrimSpace(record[idx])))
	}
	return ids, nil
}

// ReadFile opens path and calls Read.
func ReadFile(path, column string) ([]types.ProjectIdentifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identifiers file: %w", err)
	}
	defer f.Close()

	return Read(f, column)
}

// Unique drops blank and repeated identifiers, keeping the first occurrence.
func Unique(ids []types.ProjectIdentifier) []types.ProjectIdentifier {
	seen := make(map[types.ProjectIdentifier]struct{}, len(ids))
	out := make([]types.ProjectIdentifier, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
