package logging

import "testing"

func TestCloneFields(t *testing.T) {
	if got := cloneFields(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil map, got %v", got)
	}

	src := map[string]interface{}{"component": "rpc", "port": 9933}
	dst := cloneFields(src)
	dst["component"] = "network"

	if src["component"] != "rpc" {
		t.Error("modifying the clone changed the source")
	}
	if dst["port"] != 9933 {
		t.Errorf("expected port to be copied, got %v", dst["port"])
	}
}
