package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/entrhq/sessionpilot/pkg/types"
)

// Dumper writes captured requests for manual inspection and replay.
type Dumper struct {
	dir string
}

// NewDumper creates a dumper writing into dir.
func NewDumper(dir string) *Dumper {
	return &Dumper{dir: dir}
}

type dumpRecord struct {
	*types.CapturedAPIConfig
	PostData string `json:"postData,omitempty"`
}

// Dump writes <id>.json and <id>.sh and returns the JSON path.
func (d *Dumper) Dump(cfg *types.CapturedAPIConfig, postData string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create capture directory: %w", err)
	}
	base := fmt.Sprintf("%s_%s_%s", cfg.CreatedAt.Format("20060102T150405"), cfg.APIVersion, uuid.New().String()[:8])

	data, err := json.MarshalIndent(dumpRecord{CapturedAPIConfig: cfg, PostData: postData}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal capture: %w", err)
	}
	jsonPath := filepath.Join(d.dir, base+".json")
	if err := os.WriteFile(jsonPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}

	script := "#!/bin/sh\n" + Curl(cfg.Parameters, postData) + "\n"
	if err := os.WriteFile(filepath.Join(d.dir, base+".sh"), []byte(script), 0o700); err != nil {
		return "", fmt.Errorf("write curl script: %w", err)
	}
	return jsonPath, nil
}

// Curl renders a shell command that replays the request.
func Curl(p types.RequestParameters, postData string) string {
	var b strings.Builder
	b.WriteString("curl -X ")
	b.WriteString(p.Method)
	b.WriteString(" ")
	b.WriteString(shellQuote(p.URL))

	names := make([]string, 0, len(p.Headers))
	for k := range p.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b.WriteString(" \\\n  -H ")
		b.WriteString(shellQuote(k + ": " + p.Headers[k]))
	}
	if postData != "" {
		b.WriteString(" \\\n  --data-raw ")
		b.WriteString(shellQuote(postData))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
