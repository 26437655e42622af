package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

// WriteCSV renders entries as a CSV document for download.
func WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "timestamp", "user_id", "company_id", "action_type", "table_name", "record_id", "previous_values", "new_values"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		prev, err := snapshotCell(e.PreviousValues)
		if err != nil {
			return nil, err
		}
		next, err := snapshotCell(e.NewValues)
		if err != nil {
			return nil, err
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.Format(time.RFC3339),
			strconv.FormatInt(e.UserID, 10),
			strconv.FormatInt(e.CompanyID, 10),
			e.ActionType,
			e.TableName,
			strconv.FormatInt(e.RecordID, 10),
			prev,
			next,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func snapshotCell(v Values) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
