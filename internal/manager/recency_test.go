package manager

import "testing"

func TestLRU_OrderAndExclude(t *testing.T) {
	r := NewLRU()
	r.Touch("a")
	r.Touch("b")
	r.Touch("c")
	r.Touch("a")
	if ids := r.IDs(); len(ids) != 3 || ids[0] != "b" || ids[2] != "a" {
		t.Fatalf("ids=%v", ids)
	}
	if id, ok := r.Oldest(""); !ok || id != "b" {
		t.Fatalf("oldest=%s ok=%v", id, ok)
	}
	if id, ok := r.Oldest("b"); !ok || id != "c" {
		t.Fatalf("oldest excluding b=%s ok=%v", id, ok)
	}
	r.Remove("b")
	r.Remove("missing")
	if r.Len() != 2 {
		t.Fatalf("len=%d", r.Len())
	}
	r.Remove("c")
	if _, ok := r.Oldest("a"); ok {
		t.Fatalf("only excluded id left; expected none")
	}
}
