package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	if err := os.WriteFile(path, []byte(`{"sites":[]}`), 0o600); err != nil {
		t.Fatalf("write sites: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "file", path: path, want: `{"sites":[]}`},
		{name: "stdin", path: "-", stdin: `{"sites":[{"url":"x"}]}`, want: `{"sites":[{"url":"x"}]}`},
		{name: "missing flag", path: "", wantErr: true},
		{name: "missing file", path: filepath.Join(t.TempDir(), "nope.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readInput(tt.path, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, map[string]int{"totalSynced": 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"totalSynced": 2`) {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{{"orders", "sync"}, {"synthetic", "run"}} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[1] {
			t.Errorf("command %v not registered: %v", path, err)
		}
	}
}
