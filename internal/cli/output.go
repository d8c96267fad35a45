package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// resolveFormat validates an explicit format or picks one for out: a table
// for terminals, JSON when piped.
func resolveFormat(format string, out io.Writer) (string, error) {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return format, nil
	case "":
		if isTerminal(out) {
			return FormatTable, nil
		}
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML renders v through its JSON encoding so field names and order
// match the JSON output.
func printYAML(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow style JSON input leaves on every node.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		n.Style &^= yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// printStructured writes v as JSON or YAML.
func printStructured(out io.Writer, format string, v any) error {
	if format == FormatYAML {
		return printYAML(out, v)
	}
	return printJSON(out, v)
}
