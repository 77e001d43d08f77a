package behavior

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ManifestFilename is the sha256sum-format file checked when integrity
// verification is on.
const ManifestFilename = "behaviors.sha256"

// Manifest maps script file names to their lowercase hex SHA256.
type Manifest map[string]string

// LoadManifest reads dir/behaviors.sha256. Returns nil, nil if it does not exist.
func LoadManifest(dir string) (Manifest, error) {
	f, err := os.Open(filepath.Join(dir, ManifestFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f)
}

// ParseManifest reads "<hash>  <file>" lines as written by sha256sum.
// Blank lines and # comments are skipped.
func ParseManifest(r io.Reader) (Manifest, error) {
	m := Manifest{}
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		hash, file, ok := strings.Cut(text, "  ")
		if !ok || len(hash) != sha256.Size*2 {
			return nil, fmt.Errorf("manifest line %d: invalid format", line)
		}
		if _, err := hex.DecodeString(hash); err != nil {
			return nil, fmt.Errorf("manifest line %d: invalid hex: %w", line, err)
		}
		m[strings.TrimSpace(file)] = strings.ToLower(hash)
	}
	return m, scanner.Err()
}

// Verify checks path against the entry recorded for filename.
func (m Manifest) Verify(filename, path string) error {
	want, ok := m[filename]
	if !ok {
		return fmt.Errorf("file %q not in manifest", filename)
	}
	got, err := HashFile(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", filename, err)
	}
	if got != want {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", filename, want, got)
	}
	return nil
}

// HashFile returns the lowercase hex SHA256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GenerateManifest hashes every script in dir.
func GenerateManifest(dir string) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	m := Manifest{}
	for _, entry := range entries {
		if _, ok := scriptName(entry.Name()); entry.IsDir() || !ok {
			continue
		}
		hash, err := HashFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", entry.Name(), err)
		}
		m[entry.Name()] = hash
	}
	return m, nil
}

// WriteFile writes the manifest to dir/behaviors.sha256, sorted by file name.
func (m Manifest) WriteFile(dir string) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s  %s\n", m[name], name)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(b.String()), 0644)
}
