package toolenv

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

func TestNewUppercasesAndKeepsOrder(t *testing.T) {
	env := New([]string{"Path=/bin", "lib=C:\\lib", "=C:=C:\\", "garbage", "LIB=C:\\other"})

	if got, want := env.Names(), []string{"PATH", "LIB"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected names %v, got %v", want, got)
	}
	if v, _ := env.Get("lib"); v != "C:\\other" {
		t.Errorf("expected later duplicate to win, got %q", v)
	}
	if !env.Has("path") {
		t.Error("lookup should be case-insensitive")
	}
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := New([]string{"A=1"})
	derived := base.With("B", "2")

	if base.Has("B") {
		t.Error("base must not see B")
	}
	if !derived.Has("A") || !derived.Has("B") {
		t.Error("derived must carry A and B")
	}
}

func TestOverlayApplyIsolation(t *testing.T) {
	base := New([]string{"PATH=/usr/bin", "CCLASH_DIR=stale"})
	overlay := Overlay{
		Set:         map[string]string{"cclash_dir": "/cache", "CCLASH_SERVER": "1"},
		PathPrepend: []string{"/opt/cclash/bin"},
	}

	applied := overlay.Apply(base)

	if v, _ := applied.Get("CCLASH_DIR"); v != "/cache" {
		t.Errorf("overlay should win on collision, got %q", v)
	}
	wantPath := "/opt/cclash/bin" + string(os.PathListSeparator) + "/usr/bin"
	if v, _ := applied.Get("PATH"); v != wantPath {
		t.Errorf("expected PATH %q, got %q", wantPath, v)
	}

	// The base is unchanged, and a fresh overlay built from it does not see X.
	if v, _ := base.Get("CCLASH_DIR"); v != "stale" {
		t.Errorf("base was mutated: CCLASH_DIR=%q", v)
	}
	if base.Has("CCLASH_SERVER") {
		t.Error("base must not contain overlay-only variable")
	}
	next := Overlay{}.Apply(base)
	if next.Has("CCLASH_SERVER") {
		t.Error("subsequent overlay must not inherit earlier overlay variables")
	}
}

func TestPrependPathWithoutExistingPath(t *testing.T) {
	env := Environment{}.PrependPath("/a", "/b")
	want := "/a" + string(os.PathListSeparator) + "/b"
	if v, _ := env.Get("PATH"); v != want {
		t.Errorf("expected %q, got %q", want, v)
	}
}

func TestEnvironRendersPairs(t *testing.T) {
	env := FromMap(map[string]string{"B": "2", "A": "1"})
	if got := strings.Join(env.Environ(), ";"); got != "A=1;B=2" {
		t.Errorf("unexpected environ %q", got)
	}
}

func TestOverlayMerge(t *testing.T) {
	a := Overlay{Set: map[string]string{"X": "a", "Y": "a"}, PathPrepend: []string{"/a"}}
	b := Overlay{Set: map[string]string{"Y": "b"}, PathPrepend: []string{"/b"}}

	merged := a.Merge(b)
	env := merged.Apply(New([]string{"PATH=/sys"}))

	if v, _ := env.Get("Y"); v != "b" {
		t.Errorf("later overlay should win, got %q", v)
	}
	sep := string(os.PathListSeparator)
	if v, _ := env.Get("PATH"); v != "/b"+sep+"/a"+sep+"/sys" {
		t.Errorf("unexpected PATH %q", v)
	}
	if !(Overlay{}).IsZero() || merged.IsZero() {
		t.Error("IsZero mismatch")
	}
}
