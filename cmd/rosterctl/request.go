package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/roster/batch"
)

// readRequest loads a batch request from a YAML file.
func readRequest(path string) (batch.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return batch.Request{}, fmt.Errorf("failed to read input file: %w", err)
	}

	var req batch.Request
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return batch.Request{}, fmt.Errorf("failed to parse input file: %w", err)
	}
	return req, nil
}

func writeReport(w io.Writer, outcome batch.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}
