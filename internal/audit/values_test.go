package audit

import (
	"encoding/json"
	"testing"
)

func TestValuesRoundTrip(t *testing.T) {
	original := Values{
		"name":    String("Kolam A"),
		"size":    Number(json.Number("12.500")),
		"count":   Number(json.Number("42")),
		"active":  Bool(true),
		"deleted": Null(),
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Values
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(original) {
		t.Fatalf("round trip mismatch: got %#v want %#v", decoded, original)
	}
	if decoded["size"].Num != "12.500" {
		t.Fatalf("numeric literal changed: got %q", decoded["size"].Num)
	}
}

func TestValuesMarshalNativeScalars(t *testing.T) {
	raw, err := json.Marshal(Values{"qty": Number("7"), "ok": Bool(false), "note": Null()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		t.Fatalf("unmarshal into plain map: %v", err)
	}
	if plain["qty"] != float64(7) {
		t.Fatalf("qty not emitted as JSON number: %#v", plain["qty"])
	}
	if plain["ok"] != false {
		t.Fatalf("ok not emitted as JSON bool: %#v", plain["ok"])
	}
	if v, present := plain["note"]; !present || v != nil {
		t.Fatalf("note not emitted as JSON null: %#v", v)
	}
}

func TestValuesRejectNestedJSON(t *testing.T) {
	for _, raw := range []string{
		`{"nested":{"a":1}}`,
		`{"list":[1,2]}`,
	} {
		var v Values
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestValuesFrom(t *testing.T) {
	v := ValuesFrom(map[string]any{
		"name":  "Budi",
		"age":   30,
		"score": 99.5,
		"flag":  true,
		"gone":  nil,
	})
	want := Values{
		"name":  String("Budi"),
		"age":   Number("30"),
		"score": Number("99.5"),
		"flag":  Bool(true),
		"gone":  Null(),
	}
	if !v.Equal(want) {
		t.Fatalf("got %#v want %#v", v, want)
	}
	if ValuesFrom(nil) != nil {
		t.Fatal("nil input should stay nil")
	}
}
