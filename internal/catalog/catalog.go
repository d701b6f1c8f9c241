// Package catalog persists the namespace, workspace, repository and model
// naming hierarchy as an ownership tree of nested bbolt buckets. Model
// entries keep the schema definition and base shape so models can be
// rematerialized after a restart; record contents are not persisted.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"modeldb/internal/domain"
)

var (
	bucketNamespaces   = []byte("namespaces")
	bucketWorkspaces   = []byte("workspaces")
	bucketRepositories = []byte("repositories")
	bucketModels       = []byte("models")
)

// Store is the bbolt-backed hierarchy catalog.
type Store struct {
	db *bbolt.DB
}

// ModelDef is the persisted definition of a model.
type ModelDef struct {
	Schema    string `json:"schema"`
	BaseShape string `json:"base_shape"`
}

// ModelRef fully qualifies a persisted model.
type ModelRef struct {
	Namespace  string
	Workspace  string
	Repository string
	Model      string
	Def        ModelDef
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNamespaces)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens the catalog for reading while another process may hold
// the write lock.
func OpenReadOnly(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateNamespace adds a namespace node.
func (s *Store) CreateNamespace(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketNamespaces)
		if root.Bucket([]byte(name)) != nil {
			return fmt.Errorf("%w: namespace %q", domain.ErrAlreadyExists, name)
		}
		ns, err := root.CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		_, err = ns.CreateBucket(bucketWorkspaces)
		return err
	})
}

// RenameNamespace moves the namespace subtree to a new name.
func (s *Store) RenameNamespace(oldName, newName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return moveBucket(tx.Bucket(bucketNamespaces), oldName, newName, "namespace")
	})
}

// DeleteNamespace removes the namespace and everything under it.
func (s *Store) DeleteNamespace(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketNamespaces)
		if root.Bucket([]byte(name)) == nil {
			return fmt.Errorf("%w: namespace %q", domain.ErrNotFound, name)
		}
		return root.DeleteBucket([]byte(name))
	})
}

// ListNamespaces returns all namespace names, sorted.
func (s *Store) ListNamespaces() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		names = bucketNames(tx.Bucket(bucketNamespaces))
		return nil
	})
	return names, err
}

// CreateWorkspace adds a workspace under the namespace.
func (s *Store) CreateWorkspace(namespace, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		wss, err := workspacesBucket(tx, namespace)
		if err != nil {
			return err
		}
		if wss.Bucket([]byte(name)) != nil {
			return fmt.Errorf("%w: workspace %q", domain.ErrAlreadyExists, name)
		}
		ws, err := wss.CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		_, err = ws.CreateBucket(bucketRepositories)
		return err
	})
}

// RenameWorkspace moves the workspace subtree to a new name.
func (s *Store) RenameWorkspace(namespace, oldName, newName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		wss, err := workspacesBucket(tx, namespace)
		if err != nil {
			return err
		}
		return moveBucket(wss, oldName, newName, "workspace")
	})
}

// DeleteWorkspace removes the workspace and everything under it.
func (s *Store) DeleteWorkspace(namespace, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		wss, err := workspacesBucket(tx, namespace)
		if err != nil {
			return err
		}
		if wss.Bucket([]byte(name)) == nil {
			return fmt.Errorf("%w: workspace %q", domain.ErrNotFound, name)
		}
		return wss.DeleteBucket([]byte(name))
	})
}

// ListWorkspaces returns the workspace names under the namespace, sorted.
func (s *Store) ListWorkspaces(namespace string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		wss, err := workspacesBucket(tx, namespace)
		if err != nil {
			return err
		}
		names = bucketNames(wss)
		return nil
	})
	return names, err
}

// CreateRepository adds a repository under the workspace.
func (s *Store) CreateRepository(namespace, workspace, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		repos, err := repositoriesBucket(tx, namespace, workspace)
		if err != nil {
			return err
		}
		if repos.Bucket([]byte(name)) != nil {
			return fmt.Errorf("%w: repository %q", domain.ErrAlreadyExists, name)
		}
		repo, err := repos.CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		_, err = repo.CreateBucket(bucketModels)
		return err
	})
}

// RenameRepository moves the repository subtree to a new name.
func (s *Store) RenameRepository(namespace, workspace, oldName, newName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		repos, err := repositoriesBucket(tx, namespace, workspace)
		if err != nil {
			return err
		}
		return moveBucket(repos, oldName, newName, "repository")
	})
}

// DeleteRepository removes the repository and its models.
func (s *Store) DeleteRepository(namespace, workspace, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		repos, err := repositoriesBucket(tx, namespace, workspace)
		if err != nil {
			return err
		}
		if repos.Bucket([]byte(name)) == nil {
			return fmt.Errorf("%w: repository %q", domain.ErrNotFound, name)
		}
		return repos.DeleteBucket([]byte(name))
	})
}

// ListRepositories returns the repository names under the workspace, sorted.
func (s *Store) ListRepositories(namespace, workspace string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		repos, err := repositoriesBucket(tx, namespace, workspace)
		if err != nil {
			return err
		}
		names = bucketNames(repos)
		return nil
	})
	return names, err
}

// PutModel stores (or replaces) the model definition under the repository.
func (s *Store) PutModel(namespace, workspace, repository, model string, def ModelDef) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		models, err := modelsBucket(tx, namespace, workspace, repository)
		if err != nil {
			return err
		}
		data, err := json.Marshal(def)
		if err != nil {
			return err
		}
		return models.Put([]byte(model), data)
	})
}

// GetModel returns the persisted model definition.
func (s *Store) GetModel(namespace, workspace, repository, model string) (ModelDef, error) {
	var def ModelDef
	err := s.db.View(func(tx *bbolt.Tx) error {
		models, err := modelsBucket(tx, namespace, workspace, repository)
		if err != nil {
			return err
		}
		data := models.Get([]byte(model))
		if data == nil {
			return fmt.Errorf("%w: model %q", domain.ErrNotFound, model)
		}
		return json.Unmarshal(data, &def)
	})
	return def, err
}

// DeleteModel removes the model definition.
func (s *Store) DeleteModel(namespace, workspace, repository, model string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		models, err := modelsBucket(tx, namespace, workspace, repository)
		if err != nil {
			return err
		}
		if models.Get([]byte(model)) == nil {
			return fmt.Errorf("%w: model %q", domain.ErrNotFound, model)
		}
		return models.Delete([]byte(model))
	})
}

// ListModels returns the model names under the repository, sorted.
func (s *Store) ListModels(namespace, workspace, repository string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		models, err := modelsBucket(tx, namespace, workspace, repository)
		if err != nil {
			return err
		}
		return models.ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

// ForEachModel walks every persisted model in the tree.
func (s *Store) ForEachModel(fn func(ref ModelRef) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketNamespaces)
		for _, ns := range bucketNames(root) {
			wss := root.Bucket([]byte(ns)).Bucket(bucketWorkspaces)
			for _, ws := range bucketNames(wss) {
				repos := wss.Bucket([]byte(ws)).Bucket(bucketRepositories)
				for _, repo := range bucketNames(repos) {
					models := repos.Bucket([]byte(repo)).Bucket(bucketModels)
					err := models.ForEach(func(k, v []byte) error {
						var def ModelDef
						if err := json.Unmarshal(v, &def); err != nil {
							return err
						}
						return fn(ModelRef{
							Namespace:  ns,
							Workspace:  ws,
							Repository: repo,
							Model:      string(k),
							Def:        def,
						})
					})
					if err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func workspacesBucket(tx *bbolt.Tx, namespace string) (*bbolt.Bucket, error) {
	ns := tx.Bucket(bucketNamespaces).Bucket([]byte(namespace))
	if ns == nil {
		return nil, fmt.Errorf("%w: namespace %q", domain.ErrNotFound, namespace)
	}
	return ns.Bucket(bucketWorkspaces), nil
}

func repositoriesBucket(tx *bbolt.Tx, namespace, workspace string) (*bbolt.Bucket, error) {
	wss, err := workspacesBucket(tx, namespace)
	if err != nil {
		return nil, err
	}
	ws := wss.Bucket([]byte(workspace))
	if ws == nil {
		return nil, fmt.Errorf("%w: workspace %q", domain.ErrNotFound, workspace)
	}
	return ws.Bucket(bucketRepositories), nil
}

func modelsBucket(tx *bbolt.Tx, namespace, workspace, repository string) (*bbolt.Bucket, error) {
	repos, err := repositoriesBucket(tx, namespace, workspace)
	if err != nil {
		return nil, err
	}
	repo := repos.Bucket([]byte(repository))
	if repo == nil {
		return nil, fmt.Errorf("%w: repository %q", domain.ErrNotFound, repository)
	}
	return repo.Bucket(bucketModels), nil
}

// moveBucket renames a child bucket by deep copy, since bbolt has no native
// rename.
func moveBucket(parent *bbolt.Bucket, oldName, newName, kind string) error {
	src := parent.Bucket([]byte(oldName))
	if src == nil {
		return fmt.Errorf("%w: %s %q", domain.ErrNotFound, kind, oldName)
	}
	if parent.Bucket([]byte(newName)) != nil {
		return fmt.Errorf("%w: %s %q", domain.ErrAlreadyExists, kind, newName)
	}
	dst, err := parent.CreateBucket([]byte(newName))
	if err != nil {
		return err
	}
	if err := copyBucket(src, dst); err != nil {
		return err
	}
	return parent.DeleteBucket([]byte(oldName))
}

func copyBucket(src, dst *bbolt.Bucket) error {
	return src.ForEach(func(k, v []byte) error {
		if v == nil {
			child, err := dst.CreateBucket(k)
			if err != nil {
				return err
			}
			return copyBucket(src.Bucket(k), child)
		}
		return dst.Put(k, v)
	})
}

func bucketNames(b *bbolt.Bucket) []string {
	var names []string
	_ = b.ForEach(func(k, v []byte) error {
		if v == nil {
			names = append(names, string(k))
		}
		return nil
	})
	sort.Strings(names)
	return names
}
