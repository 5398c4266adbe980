package models

import "testing"

func TestJSONBValueScan(t *testing.T) {
	t.Log("\n🔍 Testing JSONB column round trip...")

	in := JSONB{"items": []interface{}{"akismet/akismet.php"}}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("❌ Value failed: %v", err)
	}

	var out JSONB
	if err := out.Scan([]byte(v.(string))); err != nil {
		t.Fatalf("❌ Scan failed: %v", err)
	}
	items, ok := out["items"].([]interface{})
	if !ok || len(items) != 1 || items[0] != "akismet/akismet.php" {
		t.Errorf("❌ Round trip lost data: %v", out)
	}

	var null JSONB
	if v, _ := null.Value(); v != nil {
		t.Errorf("❌ Nil JSONB should store NULL, got %v", v)
	}
	if err := out.Scan(nil); err != nil || out != nil {
		t.Errorf("❌ Scanning NULL should reset, got %v %v", out, err)
	}
	if err := out.Scan(42); err == nil {
		t.Error("❌ Expected error for unsupported source type")
	}

	t.Log("✅ JSONB column works")
}
