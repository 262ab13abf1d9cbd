package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/nimburion/transfers/pkg/outcome"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// resultError marks a failed record operation whose result was printed.
type resultError struct {
	result outcome.Result
}

func (e *resultError) Error() string {
	return fmt.Sprintf("%s: %s", e.result.Kind, e.result.Message)
}

func (e *resultError) Unwrap() error {
	return e.result.Error()
}

// writeResult prints res and turns a failed result into an error.
func (a *app) writeResult(w io.Writer, res outcome.Result) error {
	if err := a.write(w, res); err != nil {
		return err
	}
	if !res.Success() {
		return &resultError{result: res}
	}
	return nil
}

// write prints v as indented JSON or as block-style YAML with the JSON
// field names and order.
func (a *app) write(w io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if a.output != outputYAML {
		_, err := w.Write(buf.Bytes())
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(buf.Bytes(), &node); err != nil {
		return fmt.Errorf("convert output to yaml: %w", err)
	}
	blockStyle(&node)
	enc2 := yaml.NewEncoder(w)
	enc2.SetIndent(2)
	if err := enc2.Encode(&node); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc2.Close()
}

// blockStyle clears the flow and quoting styles the JSON source implies.
// The encoder still quotes strings that would otherwise read as another type.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
