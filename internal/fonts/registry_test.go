package fonts

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/goregular"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Vazir-Bold", "vazir"},
		{"Vazir-Regular", "vazir"},
		{"vazir regular", "vazir"},
		{"VAZIR_Light", "vazir"},
		{"B Nazanin", "bnazanin"},
		{"IRANSans-BoldItalic", "iransans"},
		{"Sahel Semi-Bold", "sahelsemi"},
		{"Black", "black"},
		{"  ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeFont(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), goregular.TTF, 0644); err != nil {
		t.Fatal(err)
	}
}

func openRegistry(t *testing.T, files ...string) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		writeFont(t, dir, f)
	}
	r, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return r, dir
}

func TestResolveStripsStyleSuffix(t *testing.T) {
	r, dir := openRegistry(t, "Vazir-Regular.ttf")

	res := r.Resolve("Vazir-Bold")
	if res.Path != filepath.Join(dir, "Vazir-Regular.ttf") {
		t.Fatalf("Resolve(Vazir-Bold).Path = %q, want the Vazir-Regular file", res.Path)
	}
	if res.Level != MatchExact {
		t.Errorf("level = %v, want exact", res.Level)
	}
}

func TestResolvePartialMatch(t *testing.T) {
	r, dir := openRegistry(t, "IRANSansWeb.ttf", "Tahoma.ttf")

	res := r.Resolve("IRANSans")
	if res.Path != filepath.Join(dir, "IRANSansWeb.ttf") {
		t.Fatalf("Path = %q", res.Path)
	}
	if res.Level != MatchPartial {
		t.Errorf("level = %v, want partial", res.Level)
	}
}

func TestResolveFallbackChain(t *testing.T) {
	r, dir := openRegistry(t, "B-Mitra.ttf", "IRANSans.ttf")

	res := r.Resolve("Nonexistent Serif")
	if res.Level != FallbackRTL {
		t.Fatalf("level = %v, want fallback", res.Level)
	}
	// IRANSans comes before B Mitra in the fallback order.
	if res.Path != filepath.Join(dir, "IRANSans.ttf") {
		t.Errorf("Path = %q, want IRANSans", res.Path)
	}
}

func TestResolveIsTotal(t *testing.T) {
	r, _ := openRegistry(t)

	for _, name := range []string{"", "   ", "Vazir", "{{}}", "نستعلیق", strings.Repeat("x", 500)} {
		res := r.Resolve(name)
		if !res.Builtin() || res.Key != BuiltinKey {
			t.Errorf("Resolve(%q) = %+v, want built-in", name, res)
		}
		data, err := r.Load(res)
		if err != nil || !bytes.Equal(data, goregular.TTF) {
			t.Errorf("Load(builtin) returned err=%v len=%d", err, len(data))
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	r, _ := openRegistry(t, "Sahel.ttf", "Sahel-FD.ttf", "Vazir.ttf")

	first := r.Resolve("Sahel")
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, r.Resolve("Sahel")); diff != "" {
			t.Fatalf("resolution changed (-first +got):\n%s", diff)
		}
	}
}

func TestOpenSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeFont(t, dir, "Good.ttf")
	os.WriteFile(filepath.Join(dir, "Broken.ttf"), []byte("not a font"), 0644)
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello"), 0644)

	r, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	var files []string
	for _, a := range r.List() {
		files = append(files, a.File)
	}
	if diff := cmp.Diff([]string{"Good.ttf"}, files); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadAndDelete(t *testing.T) {
	r, dir := openRegistry(t)

	if _, err := r.Upload("evil.exe", bytes.NewReader(goregular.TTF)); !errors.Is(err, ErrInvalidFont) {
		t.Errorf("Upload(.exe) err = %v, want ErrInvalidFont", err)
	}
	if _, err := r.Upload("Broken.ttf", strings.NewReader("garbage")); !errors.Is(err, ErrInvalidFont) {
		t.Errorf("Upload(garbage) err = %v, want ErrInvalidFont", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Broken.ttf")); !os.IsNotExist(err) {
		t.Errorf("invalid upload left a file behind")
	}

	asset, err := r.Upload("../Vazir-Medium.ttf", bytes.NewReader(goregular.TTF))
	if err != nil {
		t.Fatal(err)
	}
	if asset.File != "Vazir-Medium.ttf" {
		t.Errorf("asset.File = %q", asset.File)
	}
	if res := r.Resolve("Vazir"); res.Level != MatchExact || res.Path != filepath.Join(dir, "Vazir-Medium.ttf") {
		t.Errorf("Resolve after upload = %+v", res)
	}
	// B Titr only resolves through the fallback chain.
	if diff := cmp.Diff([]string{"B Titr"}, r.Missing([]string{"Vazir", "B Titr"})); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}

	if err := r.Delete("Vazir-Medium.ttf"); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete("Vazir-Medium.ttf"); !errors.Is(err, ErrFontNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
	if res := r.Resolve("Vazir"); !res.Builtin() {
		t.Errorf("Resolve after delete = %+v, want built-in", res)
	}
}

func TestConcurrentResolveAndUpload(t *testing.T) {
	r, _ := openRegistry(t, "Vazir.ttf")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res := r.Resolve("Vazir-Bold")
				if _, err := r.Load(res); err != nil {
					t.Errorf("Load: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if _, err := r.Upload("Sahel.ttf", bytes.NewReader(goregular.TTF)); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestFaceFilter(t *testing.T) {
	f := BuiltinFace()
	if !f.Has('A') {
		t.Fatal("Go Regular should have A")
	}
	got, dropped := f.Filter("AB 12 ﻻ")
	if got != "AB 12 " || dropped != 1 {
		t.Errorf("Filter = %q, %d", got, dropped)
	}
}
