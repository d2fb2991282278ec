package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempVideo(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write temp video: %v", err)
	}
	return path
}

func TestNormalizeYouTubeVariants(t *testing.T) {
	n := NewNormalizer()
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"http://youtube.com/watch?v=abc123XYZ_-", "https://www.youtube.com/watch?v=abc123XYZ_-"},
		{"https://youtu.be/dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
	}
	for _, tc := range cases {
		src, err := n.Normalize(tc.in)
		if err != nil {
			t.Errorf("Normalize(%q): %v", tc.in, err)
			continue
		}
		if src.SourceType != TypeYouTube {
			t.Errorf("Normalize(%q): type %s", tc.in, src.SourceType)
		}
		if src.NormalizedInput != tc.want {
			t.Errorf("Normalize(%q) = %q want %q", tc.in, src.NormalizedInput, tc.want)
		}
	}
}

func TestNormalizeRejectsBadYouTubeIDs(t *testing.T) {
	n := NewNormalizer()
	cases := []string{
		"https://www.youtube.com/watch",
		"https://www.youtube.com/watch?v=short",
		"https://youtu.be/",
		"https://www.youtube.com/watch?v=has%20space%20inside",
	}
	for _, in := range cases {
		if _, err := n.Normalize(in); err == nil {
			t.Errorf("Normalize(%q) should fail", in)
		}
	}
}

func TestNormalizeLocalFile(t *testing.T) {
	n := NewNormalizer()
	path := writeTempVideo(t, "My Clip (1).mp4", 128)
	src, err := n.Normalize(path)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if src.SourceType != TypeLocal {
		t.Fatalf("type %s", src.SourceType)
	}
	if src.LocalPath == "" || !filepath.IsAbs(src.LocalPath) {
		t.Fatalf("local path %q", src.LocalPath)
	}
	if strings.ContainsAny(src.DisplayName, "() ") {
		t.Fatalf("display name not sanitized: %q", src.DisplayName)
	}
}

func TestNormalizeLocalFailures(t *testing.T) {
	n := NewNormalizer()
	n.MaxLocalFileBytes = 64

	empty := writeTempVideo(t, "empty.mp4", 0)
	big := writeTempVideo(t, "big.mp4", 128)
	wrongExt := writeTempVideo(t, "doc.txt", 16)
	dir := t.TempDir()

	cases := []struct {
		name string
		in   string
	}{
		{"blank", "   "},
		{"missing", filepath.Join(dir, "nope.mp4")},
		{"directory", dir},
		{"extension", wrongExt},
		{"empty file", empty},
		{"oversize", big},
	}
	for _, tc := range cases {
		_, err := n.Normalize(tc.in)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), "invalid_input") {
			t.Errorf("%s: error %v lacks invalid_input", tc.name, err)
		}
	}
}

func TestNormalizeNonYouTubeURLTreatedAsPath(t *testing.T) {
	n := NewNormalizer()
	if _, err := n.Normalize("https://vimeo.com/12345"); err == nil {
		t.Fatal("non-YouTube URL should fall through to (failing) local path validation")
	}
}
