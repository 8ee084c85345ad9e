// Package report converts the native output of the scanning tools into
// normalized summaries and human readable log lines.
package report

import (
	"bytes"
	"fmt"
	"os"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeFile decodes the JSON report at path into v. Any failure wraps
// model.ErrReportParse.
func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrReportParse, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return fmt.Errorf("%w: %s: empty report", model.ErrReportParse, path)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrReportParse, path, err)
	}
	return nil
}
