package hub

import (
	"testing"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/mcp"
)

func stdioSpec(name string) mcp.ServerSpec {
	return mcp.ServerSpec{
		Name:      name,
		Transport: mcp.Transport{Type: "stdio", Command: "some-mcp"},
	}
}

func TestRegistry_AddListDelete(t *testing.T) {
	r := NewRegistry(t.TempDir())

	if err := r.Add(stdioSpec("github")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(stdioSpec("search")); err != nil {
		t.Fatal(err)
	}

	specs, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 || specs[0].Name != "github" || specs[1].Name != "search" {
		t.Fatalf("specs = %+v", specs)
	}

	if err := r.Delete("github"); err != nil {
		t.Fatal(err)
	}
	specs, _ = r.List()
	if len(specs) != 1 {
		t.Errorf("after delete: %+v", specs)
	}

	err = r.Delete("github")
	if domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("double delete kind = %v", domain.KindOf(err))
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry(t.TempDir())
	if err := r.Add(stdioSpec("dup")); err != nil {
		t.Fatal(err)
	}
	err := r.Add(stdioSpec("dup"))
	if domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("kind = %v", domain.KindOf(err))
	}
}

func TestRegistry_InvalidName(t *testing.T) {
	r := NewRegistry(t.TempDir())
	for _, name := range []string{"", "UPPER", "has space", "../escape"} {
		if err := r.Add(stdioSpec(name)); domain.KindOf(err) != domain.KindInputRejected {
			t.Errorf("name %q: kind = %v", name, domain.KindOf(err))
		}
	}
}

func TestRegistry_EnableDisable(t *testing.T) {
	r := NewRegistry(t.TempDir())
	if err := r.Add(stdioSpec("svc")); err != nil {
		t.Fatal(err)
	}

	if err := r.SetEnabled("svc", false); err != nil {
		t.Fatal(err)
	}
	spec, err := r.Get("svc")
	if err != nil {
		t.Fatal(err)
	}
	if spec.IsEnabled() {
		t.Error("still enabled after disable")
	}

	if err := r.SetEnabled("svc", true); err != nil {
		t.Fatal(err)
	}
	spec, _ = r.Get("svc")
	if !spec.IsEnabled() {
		t.Error("still disabled after enable")
	}

	if err := r.SetEnabled("nope", true); domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("unknown name kind = %v", domain.KindOf(err))
	}
}
