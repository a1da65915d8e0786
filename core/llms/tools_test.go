package llms

import (
	"strings"
	"testing"
)

func TestNewToolReflectsParameterSchema(t *testing.T) {
	tool := NewTool("lookup", "Look something up",
		func(parameters struct {
			Query string `json:"query"`
		}) (string, error) {
			return "found: " + parameters.Query, nil
		})

	if tool.Name != "lookup" || tool.Description != "Look something up" {
		t.Fatalf("unexpected tool metadata %+v", tool)
	}
	if tool.Parameters == nil {
		t.Fatalf("expected a reflected parameter schema")
	}
	if _, ok := tool.Parameters.Properties.Get("query"); !ok {
		t.Fatalf("expected the schema to describe the query parameter")
	}
}

func TestToolExecuteParsesArguments(t *testing.T) {
	tool := NewTool("echo", "Echo the input",
		func(parameters struct {
			Text string `json:"text"`
		}) (string, error) {
			return parameters.Text, nil
		})

	result, err := tool.Execute(`{"text": "hello"}`)
	if err != nil {
		t.Fatalf("expected execution to succeed, got %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected %q, got %q", "hello", result)
	}

	if _, err := tool.Execute(`not json`); err == nil {
		t.Fatalf("expected malformed arguments to fail")
	}

	// Models sometimes call parameterless tools with no arguments at all.
	if _, err := tool.Execute(""); err != nil {
		t.Fatalf("expected empty arguments to be tolerated, got %v", err)
	}
}

func TestToolWithoutImplementation(t *testing.T) {
	tool := Tool{Name: "stub"}
	if _, err := tool.Execute("{}"); err == nil {
		t.Fatalf("expected execution of an unimplemented tool to fail")
	}
}

func TestCurrentTimeTool(t *testing.T) {
	tool := CurrentTimeTool()

	result, err := tool.Execute(`{"timezone": "UTC"}`)
	if err != nil {
		t.Fatalf("expected execution to succeed, got %v", err)
	}
	if !strings.Contains(result, "UTC") {
		t.Fatalf("expected a UTC timestamp, got %q", result)
	}

	if _, err := tool.Execute(`{"timezone": "Atlantis/Lost"}`); err == nil {
		t.Fatalf("expected an unknown timezone to fail")
	}
}
