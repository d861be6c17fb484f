package vault

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/kestrelhq/tend/internal/errors"
)

// Document identifies a markdown document within the vault.
type Document struct {
	// Name is the path relative to the vault root, e.g. "projects/home.md".
	Name string `json:"name"`

	// ModTime is the Unix timestamp of the last modification.
	ModTime int64 `json:"mod_time"`
}

// Vault is a folder of newline-delimited markdown documents. Line numbers
// are 1-based at every public boundary.
type Vault struct {
	root string
}

// Open opens (creating if necessary) the vault rooted at the given path.
func Open(root string) (*Vault, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.NewInvalidRequest("vault path must not be empty")
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &Vault{root: root}, nil
}

// Root returns the vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// resolve maps a document name to an absolute path, rejecting names that
// escape the vault root.
func (v *Vault) resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewInvalidRequest("document name must not be empty")
	}
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", errors.NewInvalidRequest("document name escapes vault: " + name)
	}
	return filepath.Join(v.root, cleaned), nil
}

// List returns all markdown documents in the vault, sorted by name.
func (v *Vault) List() ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(v.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Hidden directories (e.g. .git, .tend) are not documents
			if path != v.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(v.root, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		docs = append(docs, Document{
			Name:    filepath.ToSlash(rel),
			ModTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Exists reports whether the named document exists.
func (v *Vault) Exists(name string) bool {
	path, err := v.resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Read returns the full content of a document.
func (v *Vault) Read(name string) (string, error) {
	path, err := v.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewNotFound(name)
		}
		return "", errors.NewInternal(err)
	}
	return string(data), nil
}

// Write replaces the full content of a document atomically, creating parent
// directories as needed.
func (v *Vault) Write(name, content string) error {
	path, err := v.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewInternal(err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ReadLines returns the document split into lines. A trailing newline does
// not produce a phantom empty final line.
func (v *Vault) ReadLines(name string) ([]string, error) {
	content, err := v.Read(name)
	if err != nil {
		return nil, err
	}
	return SplitLines(content), nil
}

// WriteLines joins lines with newlines (plus a trailing newline) and writes
// the document atomically.
func (v *Vault) WriteLines(name string, lines []string) error {
	return v.Write(name, JoinLines(lines))
}

// ReplaceLine replaces the 1-based line lineNum with replacement, but only
// if the line's current content still equals expected. A mismatch means the
// document changed between read and write; the write is refused with a
// CONFLICT error and the caller decides whether to re-validate.
func (v *Vault) ReplaceLine(name string, lineNum int, expected, replacement string) error {
	lines, err := v.ReadLines(name)
	if err != nil {
		return err
	}
	if lineNum < 1 || lineNum > len(lines) {
		return errors.NewNotFound(name + ": line out of range")
	}
	if lines[lineNum-1] != expected {
		return errors.NewConflict("line changed since read: " + name)
	}
	lines[lineNum-1] = replacement
	return v.WriteLines(name, lines)
}

// SplitLines splits newline-delimited content into lines, tolerating CRLF
// and a trailing newline.
func SplitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// JoinLines joins lines into newline-delimited content with a final newline.
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
