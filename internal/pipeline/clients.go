package pipeline

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/translate"

	appconfig "babblefish/internal/config"
)

// clients bundles the two AWS SDK clients the Pipeline calls through.
// Grounded in the teacher's AWSClientPool: a single pair of clients is
// shared by every Room, since the SDK clients themselves are safe for
// concurrent use (only the pipeline's own single-permit semaphore
// enforces the spec's "not safe to invoke concurrently" model-state
// contract, not the transport clients).
type clients struct {
	transcribe *transcribestreaming.Client
	translate  *translate.Client
}

func newClients(ctx context.Context, cfg appconfig.AWSConfig) (*clients, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &clients{
		transcribe: transcribestreaming.NewFromConfig(awsCfg),
		translate:  translate.NewFromConfig(awsCfg),
	}, nil
}
