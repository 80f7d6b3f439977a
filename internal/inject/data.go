package inject

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/iv/internal/files"
	"github.com/dgnsrekt/iv/internal/settings"
)

// DataScriptName names the per-session data script.
const DataScriptName = "files-data"

// BuildDataScript returns the script defining the image_data and config
// globals for the page.
func BuildDataScript(records []files.Record, cfg settings.Config) (*Script, error) {
	if records == nil {
		records = []files.Record{}
	}
	filesJSON, err := jsonLiteral(records)
	if err != nil {
		return nil, fmt.Errorf("inject: encode files: %w", err)
	}
	cfgJSON, err := jsonLiteral(map[string]any(cfg))
	if err != nil {
		return nil, fmt.Errorf("inject: encode config: %w", err)
	}
	src := "image_data = " + filesJSON + ";" + "config = " + cfgJSON + ";"
	return NewScript(DataScriptName, src), nil
}

// jsonLiteral encodes v for embedding in script source with HTML characters
// escaped.
func jsonLiteral(v any) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
