package mcpserver

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/testscript"
)

// TestRunner runs a test script against a captured response.
type TestRunner interface {
	Run(ctx context.Context, script string, env testscript.Environment, response testscript.Response) (testscript.RunResult, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	runner    TestRunner
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner TestRunner) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("server.metrics_port", s.config.Server.MetricsPort),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Int("sandbox.max_call_stack", s.config.Sandbox.MaxCallStack),
		zap.String("sandbox.root_name", s.config.Sandbox.RootName),
		zap.Bool("sandbox.enable_console", s.config.Sandbox.EnableConsole),
	)

	s.mcpServer = server.NewMCPServer("scriptbox", "Runs API test scripts against captured HTTP responses")

	s.registerRunTestScriptTool()

	return s, nil
}

// registerRunTestScriptTool registers the run_test_script tool
func (s *MCPServer) registerRunTestScriptTool() {
	tool := mcp.Tool{
		Name:        "run_test_script",
		Description: "Run an untrusted JavaScript test script against a captured HTTP response",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"script": map[string]any{
					"type":        "string",
					"description": "Test script using test(), expect() and env",
				},
				"response": map[string]any{
					"type":        "string",
					"description": "JSON-encoded response: {status, statusText, headers: [{key, value}], body, responseTime}",
				},
				"envs": map[string]any{
					"type":        "string",
					"description": "YAML or JSON environment with global and selected scopes (optional)",
				},
			},
			Required: []string{"script", "response"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunTestScript)
}

// handleRunTestScript handles the run_test_script tool
func (s *MCPServer) handleRunTestScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("test script run requested")

	script, err := request.RequireString("script")
	if err != nil {
		return nil, fmt.Errorf("script parameter is required: %w", err)
	}

	rawResponse, err := request.RequireString("response")
	if err != nil {
		return nil, fmt.Errorf("response parameter is required: %w", err)
	}
	response, err := testscript.ParseResponse([]byte(rawResponse))
	if err != nil {
		return nil, err
	}

	var env testscript.Environment
	if rawEnv := request.GetString("envs", ""); rawEnv != "" {
		env, err = testscript.ParseEnvironment([]byte(rawEnv))
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("running test script",
		zap.Int("script_len", len(script)),
		zap.Int("status", response.Status),
		zap.Int("env_vars", len(env.Global)+len(env.Selected)))

	result, err := s.runner.Run(ctx, script, env, response)
	if err != nil {
		s.logger.Error("test script failed",
			zap.Error(err),
			zap.String("script", script))
		return errorResult(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	resultJSON, err := sonic.MarshalString(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	s.logger.Info("test script completed",
		zap.Int("tests", len(result.Tests)),
		zap.Bool("passed", result.Passed()))

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resultJSON,
			},
		},
	}, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
