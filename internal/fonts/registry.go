// Package fonts keeps the set of installed TrueType/OpenType files and
// resolves free-form font names against it. Resolution never fails: when no
// installed font matches, a fixed list of RTL-capable families is tried and
// finally the built-in Go Regular face is returned.
package fonts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// BuiltinKey identifies the embedded fallback face.
const BuiltinKey = "builtin-go"

const maxFontSize = 20 << 20

var (
	ErrInvalidFont  = errors.New("fonts: not a TrueType/OpenType font")
	ErrFontNotFound = errors.New("fonts: font file not found")
)

// FallbackFamilies are tried in order when a requested name has no match.
var FallbackFamilies = []string{"Vazirmatn", "Vazir", "IRANSans", "B Nazanin", "B Mitra", "Sahel", "Tahoma"}

// Level reports how a Resolution was reached.
type Level int

const (
	MatchExact Level = iota
	MatchPartial
	FallbackRTL
	FallbackBuiltin
)

func (l Level) String() string {
	switch l {
	case MatchExact:
		return "exact"
	case MatchPartial:
		return "partial"
	case FallbackRTL:
		return "fallback"
	default:
		return "builtin"
	}
}

// Asset is one installed font file.
type Asset struct {
	Family  string `json:"family"`
	Key     string `json:"key"`
	FileKey string `json:"-"`
	File    string `json:"file"`
	Path    string `json:"-"`
	Size    int64  `json:"size"`
}

// Resolution is the answer to a font request. Path is empty for the
// built-in face.
type Resolution struct {
	Requested string `json:"requested"`
	Key       string `json:"key"`
	Family    string `json:"family"`
	Path      string `json:"path,omitempty"`
	Level     Level  `json:"level"`
}

func (r Resolution) Builtin() bool { return r.Path == "" }

// Registry is safe for concurrent use. Upload and Delete take the write
// lock; everything else reads.
type Registry struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	assets []Asset
}

// Open scans dir once and registers every parseable font in it. A missing
// directory is created.
func Open(dir string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create font directory: %w", err)
	}

	r := &Registry{dir: dir, logger: logger}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read font directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isFontFile(e.Name()) {
			continue
		}
		asset, err := loadAsset(filepath.Join(dir, e.Name()))
		if err != nil {
			logger.Warn("skipping unreadable font", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		r.assets = append(r.assets, asset)
	}
	r.sortLocked()

	logger.Info("font registry loaded", zap.String("dir", dir), zap.Int("fonts", len(r.assets)))
	return r, nil
}

func isFontFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ttf", ".otf":
		return true
	}
	return false
}

func loadAsset(path string) (Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Asset{}, err
	}
	return describe(path, data)
}

func describe(path string, data []byte) (Asset, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrInvalidFont, err)
	}

	file := filepath.Base(path)
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	family := familyName(f)
	if family == "" {
		family = stem
	}

	return Asset{
		Family:  family,
		Key:     Normalize(family),
		FileKey: Normalize(stem),
		File:    file,
		Path:    path,
		Size:    int64(len(data)),
	}, nil
}

func familyName(f *sfnt.Font) string {
	var buf sfnt.Buffer
	for _, id := range []sfnt.NameID{sfnt.NameIDTypographicFamily, sfnt.NameIDFamily} {
		if name, err := f.Name(&buf, id); err == nil && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

func (r *Registry) sortLocked() {
	sort.Slice(r.assets, func(i, j int) bool { return r.assets[i].File < r.assets[j].File })
}

// Resolve returns the best available font for requested. It never fails.
func (r *Registry) Resolve(requested string) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.matchLocked(requested); ok {
		return res
	}

	for _, family := range FallbackFamilies {
		if res, ok := r.matchLocked(family); ok {
			res.Requested = requested
			res.Level = FallbackRTL
			r.logger.Warn("font not found, using fallback",
				zap.String("requested", requested), zap.String("fallback", res.Family))
			return res
		}
	}

	r.logger.Warn("font not found and no RTL fallback installed, using built-in face",
		zap.String("requested", requested))
	return Resolution{Requested: requested, Key: BuiltinKey, Family: "Go", Level: FallbackBuiltin}
}

func (r *Registry) matchLocked(requested string) (Resolution, bool) {
	key := Normalize(requested)
	if key == "" {
		return Resolution{}, false
	}

	for _, a := range r.assets {
		if a.Key == key || a.FileKey == key {
			return resolution(requested, a, MatchExact), true
		}
	}

	best, bestLen := -1, 0
	for i, a := range r.assets {
		for _, k := range []string{a.Key, a.FileKey} {
			if k == "" {
				continue
			}
			if (strings.Contains(k, key) || strings.Contains(key, k)) && len(k) > bestLen {
				best, bestLen = i, len(k)
			}
		}
	}
	if best < 0 {
		return Resolution{}, false
	}
	return resolution(requested, r.assets[best], MatchPartial), true
}

func resolution(requested string, a Asset, level Level) Resolution {
	return Resolution{Requested: requested, Key: a.Key, Family: a.Family, Path: a.Path, Level: level}
}

// Load returns the font program for res. The built-in face is served from
// memory.
func (r *Registry) Load(res Resolution) ([]byte, error) {
	if res.Builtin() {
		return goregular.TTF, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return os.ReadFile(res.Path)
}

// List returns a snapshot of the installed fonts.
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Asset(nil), r.assets...)
}

// Missing returns the names in requested that would not resolve to an
// installed font of their own.
func (r *Registry) Missing(requested []string) []string {
	var missing []string
	for _, name := range requested {
		if res := r.Resolve(name); res.Level >= FallbackRTL {
			missing = append(missing, name)
		}
	}
	return missing
}

// Upload validates and installs a font. The file is written under a
// temporary name and renamed into place so readers never see a partial file.
func (r *Registry) Upload(filename string, src io.Reader) (Asset, error) {
	file := filepath.Base(filename)
	if !isFontFile(file) {
		return Asset{}, fmt.Errorf("%w: unsupported extension %q", ErrInvalidFont, filepath.Ext(file))
	}

	data, err := io.ReadAll(io.LimitReader(src, maxFontSize+1))
	if err != nil {
		return Asset{}, fmt.Errorf("failed to read font upload: %w", err)
	}
	if len(data) > maxFontSize {
		return Asset{}, fmt.Errorf("%w: file larger than %d bytes", ErrInvalidFont, maxFontSize)
	}

	final := filepath.Join(r.dir, file)
	asset, err := describe(final, data)
	if err != nil {
		return Asset{}, err
	}

	tmp, err := os.CreateTemp(r.dir, ".upload-*")
	if err != nil {
		return Asset{}, fmt.Errorf("failed to create temp font file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return Asset{}, fmt.Errorf("failed to write font file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Asset{}, fmt.Errorf("failed to write font file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Rename(tmp.Name(), final); err != nil {
		return Asset{}, fmt.Errorf("failed to install font file: %w", err)
	}
	r.removeLocked(file)
	r.assets = append(r.assets, asset)
	r.sortLocked()

	r.logger.Info("font installed", zap.String("file", file), zap.String("family", asset.Family))
	return asset, nil
}

// Delete removes an installed font by file name.
func (r *Registry) Delete(filename string) error {
	file := filepath.Base(filename)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeLocked(file) {
		return ErrFontNotFound
	}
	if err := os.Remove(filepath.Join(r.dir, file)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete font file: %w", err)
	}
	r.logger.Info("font deleted", zap.String("file", file))
	return nil
}

func (r *Registry) removeLocked(file string) bool {
	for i, a := range r.assets {
		if a.File == file {
			r.assets = append(r.assets[:i], r.assets[i+1:]...)
			return true
		}
	}
	return false
}
