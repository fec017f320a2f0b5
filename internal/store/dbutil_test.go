package store

import (
	"context"
	"testing"
)

type testRow struct {
	Name string
	Num  int64
	Opts map[string]string
}

func (r *testRow) ToMap() map[string]any {
	return map[string]any{
		"name": r.Name,
		"num":  r.Num,
		"opts": QuickJson(r.Opts),
	}
}

func (r *testRow) FromMap(m map[string]any) bool {
	QuickSetStr(&r.Name, m, "name")
	QuickSetInt64(&r.Num, m, "num")
	QuickSetJson(&r.Opts, m, "opts")
	return true
}

func TestQuickSetHelpers(t *testing.T) {
	m := map[string]any{
		"s":     []byte("from-bytes"),
		"i":     int64(42),
		"f":     float64(7),
		"b":     int64(1),
		"blob":  []byte{1, 2, 3},
		"j":     `{"k":"v"}`,
		"jarr":  `["a","b"]`,
		"empty": nil,
	}

	var s string
	QuickSetStr(&s, m, "s")
	if s != "from-bytes" {
		t.Errorf("expected from-bytes, got %q", s)
	}
	s = "unchanged"
	QuickSetStr(&s, m, "empty")
	if s != "unchanged" {
		t.Errorf("expected nil column to leave value, got %q", s)
	}

	var i int64
	QuickSetInt64(&i, m, "i")
	if i != 42 {
		t.Errorf("expected 42, got %d", i)
	}
	var fi int
	QuickSetInt(&fi, m, "f")
	if fi != 7 {
		t.Errorf("expected float64 coerced to 7, got %d", fi)
	}

	var b bool
	QuickSetBool(&b, m, "b")
	if !b {
		t.Errorf("expected true from int64(1)")
	}

	var blob []byte
	QuickSetBytes(&blob, m, "blob")
	if len(blob) != 3 || blob[0] != 1 {
		t.Errorf("unexpected blob %v", blob)
	}
	// the copy is independent of the source
	m["blob"].([]byte)[0] = 99
	if blob[0] != 1 {
		t.Errorf("expected copied bytes, got %v", blob)
	}

	var jm map[string]string
	QuickSetJson(&jm, m, "j")
	if jm["k"] != "v" {
		t.Errorf("unexpected json map %v", jm)
	}

	var arr []string
	QuickSetJsonArr(&arr, m, "jarr")
	if len(arr) != 2 || arr[1] != "b" {
		t.Errorf("unexpected json arr %v", arr)
	}

	type opts struct {
		Color string `json:"color"`
	}
	var optPtr *opts
	QuickSetNullableJson(&optPtr, m, "empty")
	if optPtr != nil {
		t.Errorf("expected nil for empty column")
	}
	m["jsonnull"] = "null"
	QuickSetNullableJson(&optPtr, m, "jsonnull")
	if optPtr != nil {
		t.Errorf("expected nil for json null column")
	}
	m["opts"] = `{"color":"red"}`
	QuickSetNullableJson(&optPtr, m, "opts")
	if optPtr == nil || optPtr.Color != "red" {
		t.Errorf("unexpected opts %v", optPtr)
	}
}

func TestQuickJson(t *testing.T) {
	if got := QuickJson(nil); got != "" {
		t.Errorf("expected empty string for nil, got %q", got)
	}
	if got := QuickJson(map[string]int{"a": 1}); got != `{"a":1}` {
		t.Errorf("unexpected json %q", got)
	}
	if got := QuickJsonArr[string](nil); got != "" {
		t.Errorf("expected empty string for nil slice, got %q", got)
	}
	if got := QuickJsonArr([]string{"x"}); got != `["x"]` {
		t.Errorf("unexpected json %q", got)
	}
	if got := QuickNullableJson(nil); got != nil {
		t.Errorf("expected nil passthrough, got %v", got)
	}
	var nilMap map[string]int
	if got := QuickNullableJson(nilMap); got == nil {
		// typed nil is not the nil interface; it still marshals
		t.Errorf("expected marshaled value for typed nil")
	}
}

func TestGetMapGen(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`ALTER TABLE kv ADD COLUMN opts varchar(200) NOT NULL DEFAULT ''`)
		row := &testRow{Name: "r1", Num: 5, Opts: map[string]string{"color": "blue"}}
		tx.NamedExec(`INSERT INTO kv (name, num, value, opts) VALUES (:name,:num,'',:opts)`, row.ToMap())
		return tx.Err
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	got, err := WithTxRtn(ctx, db, func(tx *TxWrap) (*testRow, error) {
		return GetMapGen[testRow](tx, `SELECT * FROM kv WHERE name = ?`, "r1"), nil
	})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if got == nil || got.Name != "r1" || got.Num != 5 || got.Opts["color"] != "blue" {
		t.Fatalf("unexpected row %+v", got)
	}
	missing, _ := WithTxRtn(ctx, db, func(tx *TxWrap) (*testRow, error) {
		return GetMapGen[testRow](tx, `SELECT * FROM kv WHERE name = ?`, "nope"), nil
	})
	if missing != nil {
		t.Fatalf("expected nil for missing row, got %+v", missing)
	}
	rows, _ := WithTxRtn(ctx, db, func(tx *TxWrap) ([]*testRow, error) {
		return SelectMapsGen[testRow](tx, `SELECT * FROM kv`), nil
	})
	if len(rows) != 1 || rows[0].Name != "r1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestFmtUniqueName(t *testing.T) {
	existing := []string{"workspace-1", "workspace-2", "dev"}

	// empty name uses the default format from startIdx
	if got := FmtUniqueName("", "workspace-%d", 3, existing); got != "workspace-3" {
		t.Errorf("expected workspace-3, got %q", got)
	}
	// default format skips collisions
	if got := FmtUniqueName("", "workspace-%d", 1, existing); got != "workspace-3" {
		t.Errorf("expected workspace-3, got %q", got)
	}
	// non-colliding explicit name passes through
	if got := FmtUniqueName("prod", "workspace-%d", 1, existing); got != "prod" {
		t.Errorf("expected prod, got %q", got)
	}
	// colliding explicit name gets a -2 suffix
	if got := FmtUniqueName("dev", "workspace-%d", 1, existing); got != "dev-2" {
		t.Errorf("expected dev-2, got %q", got)
	}
	// and keeps counting past further collisions
	if got := FmtUniqueName("dev", "workspace-%d", 1, append(existing, "dev-2")); got != "dev-3" {
		t.Errorf("expected dev-3, got %q", got)
	}
}
