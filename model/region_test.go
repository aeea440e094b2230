package model

import "testing"

func TestPairs_Get(t *testing.T) {
	ps := Pairs{P("qwp1.sort", "Last"), Bare("qwp1.Name~isblank"), P("qwp1.sort", "First")}

	v, ok := ps.Get("qwp1.sort")
	if !ok || v != "Last" {
		t.Errorf("Get(qwp1.sort) = (%q, %v), want (Last, true)", v, ok)
	}
	if !ps.Has("qwp1.Name~isblank") {
		t.Error("Has(qwp1.Name~isblank) = false, want true")
	}
	if ps.Has("qwp1.offset") {
		t.Error("Has(qwp1.offset) = true, want false")
	}
}

func TestPairs_Values_keepsRepeatedKeys(t *testing.T) {
	ps := Pairs{P("qwp1.Age~gte", "21"), P("qwp1.Age~gte", "30"), Bare("qwp1.Name~isblank")}
	v := ps.Values()
	if got := v["qwp1.Age~gte"]; len(got) != 2 {
		t.Errorf("Values()[qwp1.Age~gte] = %v, want 2 entries", got)
	}
	if _, ok := v["qwp1.Name~isblank"]; !ok {
		t.Error("valueless pair missing from Values()")
	}
}

func TestShowMode_Valid(t *testing.T) {
	for _, m := range []ShowMode{ShowPaginated, ShowAll, ShowSelected, ShowUnselected, ShowNone} {
		if !m.Valid() {
			t.Errorf("%q.Valid() = false, want true", m)
		}
	}
	if ShowMode("everything").Valid() {
		t.Error("unknown show mode reported valid")
	}
}

func TestQueryDetails_Column(t *testing.T) {
	qd := QueryDetails{Columns: []ColumnInfo{
		{Name: "Age", FieldKey: "Age", SQLType: "INTEGER"},
		{Name: "Name"},
	}}
	if c, ok := qd.Column("Age"); !ok || c.SQLType != "INTEGER" {
		t.Errorf("Column(Age) = (%+v, %v)", c, ok)
	}
	if _, ok := qd.Column("Name"); !ok {
		t.Error("Column(Name) should fall back to Name when FieldKey is empty")
	}
	if _, ok := qd.Column("Missing"); ok {
		t.Error("Column(Missing) = true, want false")
	}
}
