package sniff

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetectFile_MagicBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", append([]byte("%PDF-1.7\n"), make([]byte, 64)...), "application/pdf"},
		{"png", append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...), "image/png"},
		{"jpeg", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...), "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "f."+tt.name, tt.data)
			got, err := DetectFile(path, "f."+tt.name)
			if err != nil {
				t.Fatalf("DetectFile: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectFile_EmlByName(t *testing.T) {
	// .eml wins regardless of content.
	path := writeTemp(t, "mail.eml", []byte("Subject: hi\r\n\r\nbody"))
	got, err := DetectFile(path, "Mail.EML")
	if err != nil {
		t.Fatalf("DetectFile: %v", err)
	}
	if got != "message/rfc822" {
		t.Errorf("got %q, want message/rfc822", got)
	}
}

func TestDetectFile_PlainText(t *testing.T) {
	path := writeTemp(t, "note.txt", []byte("just some plain text content\n"))
	got, err := DetectFile(path, "note.txt")
	if err != nil {
		t.Fatalf("DetectFile: %v", err)
	}
	if got != "text/plain" {
		t.Errorf("got %q, want text/plain", got)
	}
}

func TestMatchSignature_ZipFallsThrough(t *testing.T) {
	if m := matchSignature([]byte{0x50, 0x4B, 0x03, 0x04, 0, 0, 0, 0}); m != "" {
		t.Errorf("zip prefix must not short-circuit, got %q", m)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mime, want string
	}{
		{"application/pdf", ".pdf"},
		{"image/png", ".png"},
		{"message/rfc822", ".eml"},
		{"text/plain", ".txt"},
		{"application/x-nonexistent", ".bin"},
	}
	for _, tt := range tests {
		if got := ExtensionFor(tt.mime); got != tt.want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
