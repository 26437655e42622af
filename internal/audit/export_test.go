package audit

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"
)

func TestWriteCSV(t *testing.T) {
	entries := []Entry{
		{
			ID:         1,
			Timestamp:  time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC),
			UserID:     7,
			CompanyID:  2,
			ActionType: ActionCreate,
			TableName:  "cages",
			RecordID:   12,
			NewValues:  Values{"name": String("Kolam A")},
		},
		{
			ID:             2,
			Timestamp:      time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC),
			UserID:         7,
			CompanyID:      2,
			ActionType:     ActionDelete,
			TableName:      "cages",
			RecordID:       12,
			PreviousValues: Values{"name": String("Kolam A")},
		},
	}

	data, err := WriteCSV(entries)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("want header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][8] != "new_values" {
		t.Fatalf("header wrong: %v", rows[0])
	}
	if rows[1][1] != "2026-03-10T08:00:00Z" {
		t.Fatalf("timestamp not RFC3339: %s", rows[1][1])
	}
	if rows[1][7] != "" || rows[1][8] != `{"name":"Kolam A"}` {
		t.Fatalf("create row snapshots wrong: prev=%q new=%q", rows[1][7], rows[1][8])
	}
	if rows[2][7] != `{"name":"Kolam A"}` || rows[2][8] != "" {
		t.Fatalf("delete row snapshots wrong: prev=%q new=%q", rows[2][7], rows[2][8])
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	data, err := WriteCSV(nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("id,timestamp")) {
		t.Fatalf("header missing: %s", data)
	}
}
