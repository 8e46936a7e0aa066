package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// CSVExporter menulis audit timeline sebagai CSV.
type CSVExporter struct{}

// WriteCSV menghasilkan isi file CSV dari baris timeline.
func (CSVExporter) WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{"at", "action", "resource_type", "resource_id", "subject_id", "performed_by", "success", "reason"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			row.Action,
			row.ResourceType,
			row.ResourceID,
			row.SubjectID,
			row.PerformedBy,
			strconv.FormatBool(row.Success),
			row.Reason,
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
