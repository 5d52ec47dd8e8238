package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// defaultRegion is used when neither the environment nor the shared config
// names one. LocalStack accepts any region.
const defaultRegion = "us-east-1"

// LoadAWSConfig resolves credentials and region the SDK way and applies the
// LocalStack endpoint override, if any, as the base endpoint of every client
// built from the returned config.
func LoadAWSConfig(ctx context.Context, optFns ...func(*config.LoadOptions) error) (sdkaws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}
	applyEndpoint(&cfg, LocalEndpoint())
	return cfg, nil
}

// LocalEndpoint returns the configured development endpoint, or "".
func LocalEndpoint() string {
	for _, key := range []string{"LOCALSTACK_ENDPOINT", "AWS_ENDPOINT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func applyEndpoint(cfg *sdkaws.Config, endpoint string) {
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if endpoint == "" {
		return
	}
	cfg.BaseEndpoint = sdkaws.String(endpoint)
}
