// Package awscli implements the use_aws tool executor (C4): it shells out
// to the local aws CLI binary rather than calling the AWS APIs directly, per
// spec.md §4.4. aws-sdk-go-v2/config is used only to resolve the effective
// region/profile for the environment snapshot (C6), never to place the API
// call itself.
package awscli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
)

type useAwsInput struct {
	Service    string            `json:"service"`
	Operation  string            `json:"operation"`
	Parameters map[string]string `json:"parameters"`
	Region     string            `json:"region,omitempty"`
	Profile    string            `json:"profile,omitempty"`
}

// Tool implements use_aws, grounded on internal/tools/exec/manager.go's
// exec.CommandContext subprocess-invocation pattern, adapted to build an
// aws-cli argv instead of a shell -c string.
type Tool struct{}

// New creates the use_aws tool.
func New() *Tool { return &Tool{} }

func (t *Tool) Name() string        { return "use_aws" }
func (t *Tool) Description() string { return "Invoke the local AWS CLI with a service/operation/parameters mapping." }
func (t *Tool) ReadOnly() bool      { return false }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service":    map[string]any{"type": "string", "description": "AWS CLI service, e.g. s3, ec2."},
			"operation":  map[string]any{"type": "string", "description": "AWS CLI operation, e.g. list-buckets."},
			"parameters": map[string]any{"type": "object", "description": "Flag values, mapped to --param value pairs."},
			"region":     map[string]any{"type": "string"},
			"profile":    map[string]any{"type": "string"},
		},
		"required": []string{"service", "operation"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *Tool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	var in useAwsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid use_aws input: %v", err)), nil
	}
	if strings.TrimSpace(in.Service) == "" || strings.TrimSpace(in.Operation) == "" {
		return tools.Errorf("service and operation are required"), nil
	}

	binary, err := exec.LookPath("aws")
	if err != nil {
		return tools.Errorf("AwsCliMissing: aws CLI binary not found on PATH"), nil
	}

	args := []string{in.Service, in.Operation}
	for name, value := range in.Parameters {
		args = append(args, "--"+name, value)
	}
	if in.Region != "" {
		args = append(args, "--region", in.Region)
	}
	if in.Profile != "" {
		args = append(args, "--profile", in.Profile)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return tools.Errorf(fmt.Sprintf("aws cli failed: %v\n%s", err, stderr.String())), nil
	}
	return tools.Text(stdout.String()), nil
}
