package catalog

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"modeldb/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateTree(t *testing.T, s *Store, ns, ws, repo string) {
	t.Helper()
	if err := s.CreateNamespace(ns); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if err := s.CreateWorkspace(ns, ws); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := s.CreateRepository(ns, ws, repo); err != nil {
		t.Fatalf("create repository: %v", err)
	}
}

func TestNamespaceCRUD(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateNamespace("root"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateNamespace("root"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if err := s.CreateNamespace("beta"); err != nil {
		t.Fatal(err)
	}

	names, err := s.ListNamespaces()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"beta", "root"}) {
		t.Errorf("expected sorted [beta root], got %v", names)
	}

	if err := s.DeleteNamespace("beta"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteNamespace("beta"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkspaceRequiresNamespace(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateWorkspace("nope", "ws"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing namespace, got %v", err)
	}
}

func TestModelRoundTrip(t *testing.T) {
	s := newTestStore(t)
	mustCreateTree(t, s, "root", "default", "main")

	def := ModelDef{Schema: `{"type":"object"}`, BaseShape: "document"}
	if err := s.PutModel("root", "default", "main", "DataModel", def); err != nil {
		t.Fatalf("put model: %v", err)
	}

	got, err := s.GetModel("root", "default", "main", "DataModel")
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if got != def {
		t.Errorf("expected %+v, got %+v", def, got)
	}

	if _, err := s.GetModel("root", "default", "main", "Missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutModel("root", "default", "other", "X", def); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing repository, got %v", err)
	}

	names, err := s.ListModels("root", "default", "main")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"DataModel"}) {
		t.Errorf("expected [DataModel], got %v", names)
	}

	if err := s.DeleteModel("root", "default", "main", "DataModel"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteModel("root", "default", "main", "DataModel"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRenameMovesSubtree(t *testing.T) {
	s := newTestStore(t)
	mustCreateTree(t, s, "root", "default", "main")

	def := ModelDef{Schema: `{"type":"object"}`, BaseShape: "document"}
	if err := s.PutModel("root", "default", "main", "DataModel", def); err != nil {
		t.Fatal(err)
	}

	if err := s.RenameNamespace("root", "prod"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if _, err := s.GetModel("prod", "default", "main", "DataModel"); err != nil {
		t.Errorf("model should be reachable under the new namespace: %v", err)
	}
	if _, err := s.GetModel("root", "default", "main", "DataModel"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old namespace should be gone, got %v", err)
	}

	if err := s.RenameNamespace("missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.CreateNamespace("taken"); err != nil {
		t.Fatal(err)
	}
	if err := s.RenameNamespace("prod", "taken"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRenameWorkspaceAndRepository(t *testing.T) {
	s := newTestStore(t)
	mustCreateTree(t, s, "root", "default", "main")

	def := ModelDef{Schema: `{"type":"object"}`, BaseShape: "document"}
	if err := s.PutModel("root", "default", "main", "M", def); err != nil {
		t.Fatal(err)
	}

	if err := s.RenameWorkspace("root", "default", "staging"); err != nil {
		t.Fatal(err)
	}
	if err := s.RenameRepository("root", "staging", "main", "archive"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetModel("root", "staging", "archive", "M"); err != nil {
		t.Errorf("model should survive nested renames: %v", err)
	}
}

func TestForEachModel(t *testing.T) {
	s := newTestStore(t)
	mustCreateTree(t, s, "root", "default", "main")
	mustCreateTree(t, s, "other", "ws", "repo")

	def := ModelDef{Schema: `{"type":"object"}`, BaseShape: "document"}
	if err := s.PutModel("root", "default", "main", "A", def); err != nil {
		t.Fatal(err)
	}
	if err := s.PutModel("other", "ws", "repo", "B", def); err != nil {
		t.Fatal(err)
	}

	var seen []string
	err := s.ForEachModel(func(ref ModelRef) error {
		seen = append(seen, ref.Namespace+"/"+ref.Workspace+"/"+ref.Repository+"/"+ref.Model)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seen, []string{"other/ws/repo/B", "root/default/main/A"}) {
		t.Errorf("unexpected walk order: %v", seen)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	mustCreateTree(t, s, "root", "default", "main")
	def := ModelDef{Schema: `{"type":"object"}`, BaseShape: "document"}
	if err := s.PutModel("root", "default", "main", "DataModel", def); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.GetModel("root", "default", "main", "DataModel")
	if err != nil {
		t.Fatalf("model should persist across reopen: %v", err)
	}
	if got != def {
		t.Errorf("expected %+v, got %+v", def, got)
	}
}
