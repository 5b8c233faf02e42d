package adapters

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"composer-repos/internal/ports"
)

type ReportWriterAdapter struct{}

func NewReportWriterAdapter() ReportWriterAdapter {
	return ReportWriterAdapter{}
}

// Write renders value as yaml or json. The path "-" writes to stdout.
func (a ReportWriterAdapter) Write(path string, format string, value any) error {
	if strings.TrimSpace(path) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("report path is empty")
	}
	if path == "-" {
		return Render(os.Stdout, format, value)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create report directory").
			WithCause(err)
	}
	file, err := os.Create(path)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create report file").
			WithCause(err)
	}
	if err := Render(file, format, value); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// Render encodes value in format (yaml or json) onto w.
func Render(w io.Writer, format string, value any) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "yaml", "yml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to encode yaml report").
				WithCause(err)
		}
		return encoder.Close()
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetEscapeHTML(false)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(value); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to encode json report").
				WithCause(err)
		}
		return nil
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported report format: %s", format))
	}
}

var _ ports.ReportWriterPort = ReportWriterAdapter{}
