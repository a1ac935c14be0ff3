package runtask

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
)

const eventSchemaURL = "https://runtask-analyzer.local/schemas/runtask-event.schema.json"

// eventSchema is the boundary contract for run task requests. Stage-specific
// URLs are required only for the stages that use them.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["access_token", "stage", "run_id", "organization_name", "workspace_name", "task_result_callback_url"],
  "properties": {
    "access_token": {"type": "string", "minLength": 1},
    "stage": {"type": "string", "minLength": 1},
    "run_id": {"type": "string", "minLength": 1},
    "organization_name": {"type": "string"},
    "workspace_id": {"type": "string"},
    "workspace_name": {"type": "string"},
    "task_result_callback_url": {"type": "string", "minLength": 1},
    "plan_json_api_url": {"type": "string"},
    "configuration_version_download_url": {"type": "string"},
    "vcs_pull_request_url": {"type": ["string", "null"]}
  },
  "allOf": [
    {
      "if": {"properties": {"stage": {"const": "post_plan"}, "access_token": {"not": {"const": "test-token"}}}},
      "then": {"required": ["plan_json_api_url"], "properties": {"plan_json_api_url": {"minLength": 1}}}
    },
    {
      "if": {"properties": {"stage": {"const": "pre_plan"}, "access_token": {"not": {"const": "test-token"}}}},
      "then": {"required": ["configuration_version_download_url"], "properties": {"configuration_version_download_url": {"minLength": 1}}}
    }
  ]
}`

var compiledEventSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(eventSchemaURL, strings.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("load event schema: %w", err)
	}
	return c.Compile(eventSchemaURL)
})

// ParseEvent validates a run task request against the event schema and
// decodes it. Any failure is reported as domain.ErrMalformedInput.
func ParseEvent(detail []byte) (Event, error) {
	schema, err := compiledEventSchema()
	if err != nil {
		return Event{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(detail))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", domain.ErrMalformedInput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}

	var ev Event
	if err := json.Unmarshal(detail, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", domain.ErrMalformedInput, err)
	}
	return ev, nil
}
