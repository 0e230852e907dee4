package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestMergeOrder(t *testing.T) {
	current := []string{"a", "b", "c", "d"}

	got, err := MergeOrder(current, []string{"c", "a"})
	if err != nil {
		t.Fatalf("merge order: %v", err)
	}
	if want := []string{"c", "a", "b", "d"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if _, err := MergeOrder(current, []string{"x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := MergeOrder(current, []string{"a", "a"}); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestSortElementsPaintOrder(t *testing.T) {
	elements := []Element{
		{ID: "b", Z: 2},
		{ID: "c", Z: 1},
		{ID: "a", Z: 2},
	}
	sortElements(elements)

	var ids []string
	for _, e := range elements {
		ids = append(ids, e.ID)
	}
	if want := []string{"c", "a", "b"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v want %v", ids, want)
	}
}

func TestPayloadScan(t *testing.T) {
	var p Payload
	if err := p.Scan([]byte(`{"color":"red","size":14}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if p["color"] != "red" || p["size"] != float64(14) {
		t.Fatalf("unexpected payload %v", p)
	}
	if err := p.Scan(`{"bold":true}`); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if p["bold"] != true {
		t.Fatalf("unexpected payload %v", p)
	}
	if err := p.Scan(42); err == nil {
		t.Fatal("expected unsupported type to fail")
	}

	v, err := Payload(nil).Value()
	if err != nil || v != "{}" {
		t.Fatalf("nil payload value = %v, %v", v, err)
	}
}
