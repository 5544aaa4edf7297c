// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// writeValue prints v in the selected output format.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case jsonFormat:
		data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case yamlFormat:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = w.Write(data)
		return err

	default: // text
		_, err := fmt.Fprintln(w, v)
		return err
	}
}
