package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/epiforge/cascade/internal/simservice"
	"github.com/epiforge/cascade/internal/sse"
	"github.com/epiforge/cascade/internal/testutil"
)

const sirDoc = `
name: sir
compartments:
  - {name: sus, display: Susceptible, default: 900}
  - {name: inf, display: Infected, default: 100}
  - {name: rec, display: Recovered, default: 0}
characteristics:
  - name: alive
    display: Alive
    components: [sus, inf, rec]
parameters:
  - {name: foi, display: Force of infection, units: probability, default: 0.2}
  - {name: recov, display: Recovery probability, units: probability, default: 0.5}
transitions:
  - {from: sus, to: inf, parameter: foi}
  - {from: inf, to: rec, parameter: recov}
cascades:
  - name: progression
    stages:
      - {name: Alive, constituents: [alive]}
      - {name: Recovered, constituents: [rec]}
`

func testServer(t *testing.T) (*Server, *simservice.Service) {
	t.Helper()

	_, lib := testutil.TestLibrary(t)
	db := testutil.TestDB(t)
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := simservice.NewService(lib, db, broker, log, simservice.Defaults{Start: 2020, End: 2025, Dt: 0.25})
	return New(svc), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go does not expose a direct "call tool" test helper, so we call the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_models":
		result, err = srv.listModels(ctx, req)
	case "describe_model":
		result, err = srv.describeModel(ctx, req)
	case "validate_model":
		result, err = srv.validateModel(ctx, req)
	case "run_simulation":
		result, err = srv.runSimulation(ctx, req)
	case "get_cascade":
		result, err = srv.getCascade(ctx, req)
	case "get_model_contract":
		result, err = srv.getModelContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListAndDescribeModels(t *testing.T) {
	srv, svc := testServer(t)
	if _, err := svc.CreateModel(context.Background(), "sir.yaml", []byte(sirDoc)); err != nil {
		t.Fatal(err)
	}

	res := callTool(t, srv, "list_models", nil)
	if res.IsError {
		t.Fatalf("list_models error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "sir.yaml") {
		t.Errorf("list output missing model: %s", resultText(res))
	}

	res = callTool(t, srv, "describe_model", map[string]interface{}{"path": "sir.yaml"})
	if res.IsError {
		t.Fatalf("describe_model error: %s", resultText(res))
	}
	var detail simservice.ModelDetail
	if err := json.Unmarshal([]byte(resultText(res)), &detail); err != nil {
		t.Fatalf("describe output not JSON: %v", err)
	}
	if detail.Name != "sir" || detail.Compartments != 3 {
		t.Errorf("unexpected detail: %+v", detail)
	}

	res = callTool(t, srv, "describe_model", map[string]interface{}{"path": "ghost.yaml"})
	if !res.IsError {
		t.Error("expected error for unknown model")
	}
}

func TestValidateModelTool(t *testing.T) {
	srv, _ := testServer(t)

	res := callTool(t, srv, "validate_model", map[string]interface{}{"content": sirDoc})
	if got := resultText(res); got != "valid" {
		t.Errorf("valid doc result = %q", got)
	}

	res = callTool(t, srv, "validate_model", map[string]interface{}{"content": "compartments: []\n"})
	if got := resultText(res); !strings.HasPrefix(got, "invalid:") {
		t.Errorf("invalid doc result = %q", got)
	}
}

func TestRunSimulationAndCascade(t *testing.T) {
	srv, svc := testServer(t)
	if _, err := svc.CreateModel(context.Background(), "sir.yaml", []byte(sirDoc)); err != nil {
		t.Fatal(err)
	}

	res := callTool(t, srv, "run_simulation", map[string]interface{}{
		"model_path": "sir.yaml",
		"name":       "baseline",
	})
	if res.IsError {
		t.Fatalf("run_simulation error: %s", resultText(res))
	}
	var summary simservice.RunSummary
	if err := json.Unmarshal([]byte(resultText(res)), &summary); err != nil {
		t.Fatalf("run output not JSON: %v", err)
	}
	if summary.Status != "completed" || summary.ID == "" {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	res = callTool(t, srv, "get_cascade", map[string]interface{}{
		"run_id": summary.ID,
		"name":   "progression",
		"year":   2020.0,
	})
	if res.IsError {
		t.Fatalf("get_cascade error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "Alive") {
		t.Errorf("cascade output missing stage: %s", resultText(res))
	}
}

func TestGetModelContract(t *testing.T) {
	srv, _ := testServer(t)
	res := callTool(t, srv, "get_model_contract", nil)
	if !strings.Contains(resultText(res), "Model Document Contract") {
		t.Errorf("contract missing heading")
	}
}
