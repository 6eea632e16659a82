// Package mcp exposes dump analysis over the Model Context Protocol so
// agent frontends can drive investigations as tools.
package mcp

import (
	"context"
	"errors"
	"io"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dumpsleuth/dumpsleuth/internal/config"
	"github.com/dumpsleuth/dumpsleuth/internal/debugger"
	"github.com/dumpsleuth/dumpsleuth/internal/engine"
)

// Server wraps the MCP SDK server around the investigation engine.
type Server struct {
	mcpServer *mcpsdk.Server
	cfg       *config.Config
	stderr    io.Writer
}

// New creates an MCP server with the analysis tools registered.
func New(cfg *config.Config, stderr io.Writer) *Server {
	if stderr == nil {
		stderr = io.Discard
	}
	s := &Server{cfg: cfg, stderr: stderr}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "dumpsleuth",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all dumpsleuth tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "dumpsleuth_analyze",
		Description: "Run a full root-cause investigation of a memory dump. Returns the final report when the investigation concludes.",
	}, s.handleAnalyze)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "dumpsleuth_validate",
		Description: "Check whether a file is a readable minidump without starting an investigation.",
	}, s.handleValidate)
}

// AnalyzeInput defines parameters for the dumpsleuth_analyze tool.
type AnalyzeInput struct {
	DumpPath string `json:"dump_path" jsonschema:"path to the memory dump file"`
	Issue    string `json:"issue" jsonschema:"description of the observed problem"`
}

// AnalyzeOutput carries the investigation result.
type AnalyzeOutput struct {
	Report           string `json:"report,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	Iterations       int    `json:"iterations"`
	CommandsExecuted int    `json:"commands_executed"`
	StoppedEarly     string `json:"stopped_early,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) handleAnalyze(ctx context.Context, req *mcpsdk.CallToolRequest, input AnalyzeInput) (*mcpsdk.CallToolResult, AnalyzeOutput, error) {
	state, sess, err := engine.RunInvestigation(ctx, s.cfg, engine.RunOptions{
		DumpPath: input.DumpPath,
		Issue:    input.Issue,
		Stderr:   s.stderr,
	})
	if err != nil {
		out := AnalyzeOutput{Error: err.Error()}
		if sess != nil {
			out.SessionID = sess.ID
		}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	out := AnalyzeOutput{
		Report:           state.FinalReport,
		SessionID:        sess.ID,
		Iterations:       state.Iteration,
		CommandsExecuted: len(state.CommandsExecuted),
		StoppedEarly:     state.TerminationReason,
	}
	return nil, out, nil
}

// ValidateInput defines parameters for the dumpsleuth_validate tool.
type ValidateInput struct {
	DumpPath string `json:"dump_path" jsonschema:"path to the memory dump file"`
}

// ValidateOutput carries the validation verdict.
type ValidateOutput struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input ValidateInput) (*mcpsdk.CallToolResult, ValidateOutput, error) {
	if err := debugger.ValidateDump(input.DumpPath); err != nil {
		var verr *debugger.ValidationError
		reason := err.Error()
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		return nil, ValidateOutput{Valid: false, Reason: reason}, nil
	}
	return nil, ValidateOutput{Valid: true}, nil
}
