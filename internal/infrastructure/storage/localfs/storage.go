package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

// Store keeps every tenant under root/{tenant}/{queue,context,organized}.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		root = "./users"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "create storage root", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) Workspace(tenant domain.Tenant) domain.Workspace {
	dir := filepath.Join(s.root, string(tenant))
	return domain.Workspace{
		Tenant:       tenant,
		Root:         dir,
		QueueDir:     filepath.Join(dir, domain.QueueDirName),
		ContextDir:   filepath.Join(dir, domain.ContextDirName),
		OrganizedDir: filepath.Join(dir, domain.OrganizedDirName),
	}
}

func (s *Store) EnsureWorkspace(_ context.Context, tenant domain.Tenant) (domain.Workspace, error) {
	if !domain.IsValidTenant(string(tenant)) {
		return domain.Workspace{}, domain.WrapError(domain.ErrInvalidInput, "ensure workspace", fmt.Errorf("invalid tenant %q", tenant))
	}
	ws := s.Workspace(tenant)
	for _, dir := range []string{ws.QueueDir, ws.ContextDir, ws.OrganizedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.Workspace{}, domain.WrapError(domain.ErrStorage, "ensure workspace", err)
		}
	}
	return ws, nil
}

func (s *Store) ListTenants(_ context.Context) ([]domain.Tenant, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "list tenants", err)
	}
	tenants := make([]domain.Tenant, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !domain.IsValidTenant(entry.Name()) {
			continue
		}
		tenants = append(tenants, domain.Tenant(entry.Name()))
	}
	return tenants, nil
}

func (s *Store) ListQueue(_ context.Context, ws domain.Workspace) ([]domain.FileRef, error) {
	refs, err := listFiles(ws.QueueDir)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "list queue", err)
	}
	return refs, nil
}

// ListContext returns context documents, leaving out the progress marker.
func (s *Store) ListContext(_ context.Context, ws domain.Workspace) ([]domain.FileRef, error) {
	refs, err := listFiles(ws.ContextDir)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "list context", err)
	}
	out := refs[:0]
	for _, ref := range refs {
		if ref.Name == domain.ProgressMarkerFile {
			continue
		}
		out = append(out, ref)
	}
	return out, nil
}

func (s *Store) ListOrganized(_ context.Context, ws domain.Workspace) ([]domain.FileRef, error) {
	refs, err := listFiles(ws.OrganizedDir)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "list organized", err)
	}
	return refs, nil
}

func (s *Store) HasQueued(_ context.Context, ws domain.Workspace) (bool, error) {
	dir, err := os.Open(ws.QueueDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, domain.WrapError(domain.ErrStorage, "check queue", err)
	}
	defer dir.Close()

	for {
		entries, err := dir.ReadDir(16)
		for _, entry := range entries {
			if entry.Type().IsRegular() && !isTempName(entry.Name()) {
				return true, nil
			}
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, domain.WrapError(domain.ErrStorage, "check queue", err)
		}
	}
}

func (s *Store) Open(_ context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "open file", err)
	}
	return f, nil
}

func (s *Store) WriteProgressMarker(_ context.Context, ws domain.Workspace, itemName string) error {
	body, err := json.MarshalIndent(domain.ProgressMarker{CurrentSystemFileName: itemName}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress marker: %w", err)
	}
	if err := writeAtomic(filepath.Join(ws.ContextDir, domain.ProgressMarkerFile), body); err != nil {
		return domain.WrapError(domain.ErrStorage, "write progress marker", err)
	}
	return nil
}

func (s *Store) WriteAnnotation(_ context.Context, ws domain.Workspace, itemName string, body []byte) error {
	if err := checkName(itemName); err != nil {
		return err
	}
	target := filepath.Join(ws.OrganizedDir, domain.AnnotationName(itemName))
	if err := writeAtomic(target, body); err != nil {
		return domain.WrapError(domain.ErrStorage, "write annotation", err)
	}
	return nil
}

// CommitItem moves the queued original into organized. Callers write the
// annotation first; the rename is the commit point.
func (s *Store) CommitItem(_ context.Context, ws domain.Workspace, itemName string) error {
	if err := checkName(itemName); err != nil {
		return err
	}
	src := filepath.Join(ws.QueueDir, itemName)
	dst := filepath.Join(ws.OrganizedDir, itemName)
	if err := os.Rename(src, dst); err != nil {
		return domain.WrapError(domain.ErrStorage, "commit item", err)
	}
	return nil
}

func (s *Store) WriteContextDocument(_ context.Context, ws domain.Workspace, name string, body []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(ws.ContextDir, name), body); err != nil {
		return domain.WrapError(domain.ErrStorage, "write context document", err)
	}
	return nil
}

func listFiles(dir string) ([]domain.FileRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	refs := make([]domain.FileRef, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || isTempName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		refs = append(refs, domain.FileRef{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return domain.WrapError(domain.ErrInvalidInput, "check file name", fmt.Errorf("invalid file name %q", name))
	}
	return nil
}
