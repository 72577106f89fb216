package events

import "testing"

func TestParseMetadata_Empty(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, []byte("null")} {
		md, err := ParseMetadata(raw)
		if err != nil {
			t.Fatalf("ParseMetadata(%q): %v", raw, err)
		}
		if md != (Metadata{}) {
			t.Errorf("ParseMetadata(%q) = %+v, want zero value", raw, md)
		}
	}
}

func TestParseMetadata_Fields(t *testing.T) {
	md, err := ParseMetadata([]byte(`{"aggregate_type":"order","aggregate_id":"order-1","is_snapshot":true}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if md.AggregateType != "order" {
		t.Errorf("AggregateType = %q, want order", md.AggregateType)
	}
	if md.AggregateID != "order-1" {
		t.Errorf("AggregateID = %q, want order-1", md.AggregateID)
	}
	if !md.IsSnapshot {
		t.Error("IsSnapshot = false, want true")
	}
}

func TestParseMetadata_Malformed(t *testing.T) {
	if _, err := ParseMetadata([]byte(`{"aggregate_type":`)); err == nil {
		t.Fatal("expected error for malformed metadata")
	}
}

func TestMetadata_EncodeOmitsEmpty(t *testing.T) {
	data, err := Metadata{AggregateType: "cart"}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if s := string(data); s != `{"aggregate_type":"cart"}` {
		t.Errorf("got %s", s)
	}
}

func TestRecord_IsSystem(t *testing.T) {
	tests := []struct {
		typ  string
		want bool
	}{
		{"$stream-created", true},
		{"$", true},
		{"OrderPlaced", false},
		{"Order$Placed", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := (Record{Type: tt.typ}).IsSystem(); got != tt.want {
			t.Errorf("IsSystem(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestDropReason_String(t *testing.T) {
	if got := DropEventHandlerException.String(); got != "EventHandlerException" {
		t.Errorf("got %q", got)
	}
	if got := DropReason(99).String(); got != "DropReason(99)" {
		t.Errorf("got %q", got)
	}
}
