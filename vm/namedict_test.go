package vm

import (
	"fmt"
	"testing"
)

func testNames(n int) []Name {
	names := make([]Name, n)
	for i := range names {
		names[i] = Intern(fmt.Sprintf("nd_test_%d", i))
	}
	return names
}

func TestNameInternStable(t *testing.T) {
	a := Intern("intern_stable")
	b := Intern("intern_stable")
	if a != b || a == 0 {
		t.Fatalf("Intern not stable: %d vs %d", a, b)
	}
	if a.String() != "intern_stable" {
		t.Errorf("String() = %q", a.String())
	}
	if _, ok := Names.Lookup("never_interned_name_xyz"); ok {
		t.Error("Lookup should not intern")
	}
}

func TestNameDictSmallInsertionOrder(t *testing.T) {
	d := NewNameDict()
	names := testNames(nameDictSmall)
	for i, n := range names {
		d.Set(n, FromSmallInt(int64(i)))
	}
	if d.IsPromoted() {
		t.Fatal("dict with 8 entries should stay small")
	}
	for i, k := range d.Keys() {
		if k != names[i] {
			t.Fatalf("key %d = %s, want %s", i, k, names[i])
		}
	}

	d.Delete(names[2])
	if d.Len() != nameDictSmall-1 || d.Contains(names[2]) {
		t.Fatal("delete from small form failed")
	}
	if keys := d.Keys(); keys[2] != names[3] {
		t.Errorf("order after delete: key 2 = %s, want %s", keys[2], names[3])
	}
}

func TestNameDictPromotion(t *testing.T) {
	d := NewNameDict()
	names := testNames(100)
	for i, n := range names {
		d.Set(n, FromSmallInt(int64(i)))
		if i == nameDictSmall-1 && d.IsPromoted() {
			t.Fatal("promoted too early")
		}
	}
	if !d.IsPromoted() {
		t.Fatal("dict with 100 entries should be promoted")
	}
	if d.Len() != 100 {
		t.Fatalf("Len = %d, want 100", d.Len())
	}
	for i, n := range names {
		v, ok := d.Get(n)
		if !ok || v.SmallInt() != int64(i) {
			t.Fatalf("Get(%s) = %v, %v", n, v, ok)
		}
	}

	// Backward-shift deletion keeps every remaining key reachable.
	for i := 0; i < len(names); i += 2 {
		if !d.Delete(names[i]) {
			t.Fatalf("Delete(%s) = false", names[i])
		}
	}
	if d.Delete(names[0]) {
		t.Error("second delete should report false")
	}
	for i, n := range names {
		_, ok := d.Get(n)
		if ok != (i%2 == 1) {
			t.Fatalf("after deletes Get(%s) ok = %v", n, ok)
		}
	}
	if d.Len() != 50 {
		t.Errorf("Len = %d, want 50", d.Len())
	}

	// Overwrite keeps the count.
	d.Set(names[1], FromSmallInt(-1))
	if v, _ := d.Get(names[1]); v.SmallInt() != -1 || d.Len() != 50 {
		t.Error("overwrite failed")
	}
}

func TestNameDictCopyAndClear(t *testing.T) {
	d := NewNameDict()
	names := testNames(20)
	for _, n := range names {
		d.Set(n, FromSmallInt(1))
	}
	c := d.Copy()
	c.Delete(names[0])
	if !d.Contains(names[0]) {
		t.Error("Copy must be independent")
	}
	d.Clear()
	if d.Len() != 0 || d.IsPromoted() {
		t.Error("Clear should reset to the small form")
	}
	if c.Len() != 19 {
		t.Errorf("copy Len = %d, want 19", c.Len())
	}
}
