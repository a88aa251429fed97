// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Cascade tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/epiforge/cascade/internal/simservice"
)

// Server wraps the MCP server with Cascade tools.
type Server struct {
	mcp *server.MCPServer
	svc *simservice.Service
}

// New creates a new MCP server with all Cascade tools registered.
func New(svc *simservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Cascade",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List the cataloged model documents with their validity and entity counts."),
	), s.listModels)

	s.mcp.AddTool(mcp.NewTool("describe_model",
		mcp.WithDescription("Describe a model document: compartments, characteristics, parameters, and cascades."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the model (e.g. models/sir.yaml)")),
	), s.describeModel)

	s.mcp.AddTool(mcp.NewTool("validate_model",
		mcp.WithDescription("Validate a YAML model document without saving it. "+
			"Content MUST follow the canonical model format; read the contract first via "+
			"the get_model_contract tool or the cascade://model-format resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("YAML model document to validate")),
	), s.validateModel)

	s.mcp.AddTool(mcp.NewTool("run_simulation",
		mcp.WithDescription("Run a simulation of a cataloged model and persist the result. "+
			"Returns the run summary including the run id for follow-up queries."),
		mcp.WithString("model_path", mcp.Required(), mcp.Description("Relative path to the model document")),
		mcp.WithString("name", mcp.Description("Optional run name")),
		mcp.WithNumber("start", mcp.Description("Start year (server default when omitted)")),
		mcp.WithNumber("end", mcp.Description("End year (server default when omitted)")),
		mcp.WithNumber("dt", mcp.Description("Timestep in years (server default when omitted)")),
		mcp.WithString("populations", mcp.Description("Comma separated population names (default: one population)")),
	), s.runSimulation)

	s.mcp.AddTool(mcp.NewTool("get_cascade",
		mcp.WithDescription("Evaluate a cascade of a completed run at a given year: "+
			"stage values, conversion fractions, and losses between stages."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by run_simulation")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Cascade name declared in the model")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Year to evaluate the cascade at")),
	), s.getCascade)

	s.mcp.AddTool(mcp.NewTool("get_model_contract",
		mcp.WithDescription("Returns the canonical Cascade model document contract. "+
			"Call this before authoring or validating model documents."),
	), s.getModelContract)

	// Resource: model format contract.
	s.mcp.AddResource(
		mcp.NewResource("cascade://model-format", "Model Format Contract",
			mcp.WithResourceDescription("Canonical YAML model document format that all models must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readModelFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.svc.ListModels(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) describeModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetModel(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	out, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) validateModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.ValidateModel(ctx, []byte(content)); err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("invalid: %v", err)), nil
	}
	return mcp.NewToolResultText("valid"), nil
}

func (s *Server) runSimulation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	modelPath, err := req.RequireString("model_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	runReq := simservice.RunRequest{
		ModelPath: modelPath,
		Name:      req.GetString("name", ""),
		Start:     req.GetFloat("start", 0),
		End:       req.GetFloat("end", 0),
		Dt:        req.GetFloat("dt", 0),
	}
	if pops := req.GetString("populations", ""); pops != "" {
		runReq.Populations = strings.Split(pops, ",")
	}

	summary, err := s.svc.RunSimulation(ctx, runReq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(summary, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getCascade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	year, err := req.RequireFloat("year")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.svc.GetCascade(ctx, runID, name, nil, year)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getModelContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ModelFormatContract), nil
}

func (s *Server) readModelFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "cascade://model-format",
			MIMEType: "text/markdown",
			Text:     ModelFormatContract,
		},
	}, nil
}
