package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-query-pipeline/internal/model"
	"go-query-pipeline/pkg/utils"
)

// ExportResult describes one written export
type ExportResult struct {
	Type        string    `json:"type"` // "csv" or "json"
	Path        string    `json:"path"`
	RecordCount int       `json:"record_count"`
	ExportedAt  time.Time `json:"exported_at"`
}

// ExportAnswer writes the breakdown rows of an answer to path. The format
// follows the extension and defaults to CSV.
func ExportAnswer(ans *model.Answer, path string) (ExportResult, error) {
	if ans == nil || ans.Result == nil {
		return ExportResult{}, fmt.Errorf("answer has no computed result to export")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return ExportResult{}, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	res := ExportResult{Type: "csv", Path: path, ExportedAt: time.Now().UTC()}
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		res.Type = "json"
		res.RecordCount, err = exportJSON(ans, path)
	default:
		res.RecordCount, err = exportCSV(ans.Result.Dimensions, path)
	}
	if err != nil {
		return ExportResult{}, err
	}
	return res, nil
}

func exportCSV(rows []model.Row, path string) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if len(rows) == 0 {
		writer.Flush()
		return 0, writer.Error()
	}

	header := tableColumns(rows[0])
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	count := 0
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = utils.AsString(row[col])
		}
		if err := writer.Write(record); err != nil {
			return count, fmt.Errorf("failed to write row: %w", err)
		}
		count++
	}
	writer.Flush()
	return count, writer.Error()
}

func exportJSON(ans *model.Answer, path string) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := map[string]interface{}{
		"export_info": map[string]interface{}{
			"request_id":      ans.RequestID,
			"exported_at":     time.Now().UTC(),
			"record_count":    len(ans.Result.Dimensions),
			"query_signature": ans.Result.QuerySignature,
		},
		"intent":  ans.Intent,
		"metrics": ans.Result.Metrics,
		"data":    ans.Result.Dimensions,
	}
	if err := encoder.Encode(exportData); err != nil {
		return 0, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return len(ans.Result.Dimensions), nil
}
