package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockConfig selects the model and region for the Bedrock provider.
// AccessKeyID and SecretAccessKey are optional; when unset the default
// AWS credential chain is used.
type BedrockConfig struct {
	ModelID         string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// bedrockInvoker is the slice of the Bedrock runtime client we use;
// tests substitute a stub.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockOracle completes via the AWS Bedrock runtime using the
// anthropic messages format.
type BedrockOracle struct {
	cfg    BedrockConfig
	client bedrockInvoker
}

// NewBedrockOracle resolves AWS credentials from the default chain.
func NewBedrockOracle(ctx context.Context, cfg BedrockConfig) (*BedrockOracle, error) {
	if cfg.ModelID == "" {
		return nil, &FatalError{Err: fmt.Errorf("bedrock model id is required")}
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("load AWS config: %w", err)}
	}
	return &BedrockOracle{
		cfg:    cfg,
		client: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete invokes the model. System messages are folded into the
// request's system field per the anthropic wire format.
func (o *BedrockOracle) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}

	req := anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
	}
	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(req)
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	out, err := o.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(o.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", classifyBedrockError(err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", &TransientError{Err: fmt.Errorf("parse response: %w", err)}
	}
	var parts []string
	for _, c := range resp.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) == 0 {
		return "", &TransientError{Err: fmt.Errorf("empty completion response")}
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}

func classifyBedrockError(err error) error {
	var throttle *types.ThrottlingException
	var overload *types.ServiceUnavailableException
	var timeout *types.ModelTimeoutException
	switch {
	case errors.As(err, &throttle), errors.As(err, &overload), errors.As(err, &timeout):
		return &TransientError{Err: err}
	default:
		return &FatalError{Err: err}
	}
}
