package dpconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
channels:
  - name: rx0
    ne: 1024
    na: 1024
    nb: 2048
    buffer_size: 2048
    huge_page: true
  - name: ctl0
    ne: 64
    na: 64
    nb: 64
    buffer_size: 512
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesChannels(t *testing.T) {
	path := writeManifest(t, sampleManifest)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Channels) != 2 {
		t.Fatalf("len(Channels) = %d, want 2", len(m.Channels))
	}
	if m.Channels[0].Name != "rx0" || m.Channels[0].Ne != 1024 || !m.Channels[0].HugePage {
		t.Fatalf("Channels[0] = %+v", m.Channels[0])
	}
	if m.Channels[1].HugePage {
		t.Fatalf("Channels[1] HugePage should default to false")
	}
}

func TestLoadRejectsMissingName(t *testing.T) {
	path := writeManifest(t, "channels:\n  - ne: 64\n    na: 64\n    nb: 64\n    buffer_size: 512\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load with missing name succeeded, want error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/manifest.yaml"); err == nil {
		t.Fatal("Load of nonexistent file succeeded, want error")
	}
}

func TestParamsConversion(t *testing.T) {
	c := ChannelSpec{Name: "x", Ne: 1024, Na: 512, Nb: 2048, BufferSize: 2048, HugePage: true}
	p := c.Params()
	if p.Ne != 1024 || p.Na != 512 || p.Nb != 2048 || p.BufferSize != 2048 || !p.HugePage {
		t.Fatalf("Params() = %+v", p)
	}
}
