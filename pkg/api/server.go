package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lesaloon/taric/pkg/contracts"
)

// CompileEntrySchema compiles the embedded LogEntry wire schema.
func CompileEntrySchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("log_entry.schema.json", bytes.NewReader(contracts.LogEntrySchemaJSON)); err != nil {
		return nil, fmt.Errorf("api: add entry schema: %w", err)
	}
	schema, err := c.Compile("log_entry.schema.json")
	if err != nil {
		return nil, fmt.Errorf("api: compile entry schema: %w", err)
	}
	return schema, nil
}

// Routes registers the TARIC endpoints on mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/entries", s.HandleEntries)
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/export", s.HandleExport)
}

// Handler returns the full handler chain for the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	return RequestLogging(s.logger(), mux)
}
