// Package awsclient builds the AWS SDK clients the API depends on.
package awsclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"time"

	"ppmt-amp-api/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// configLoadFunc is a variable to allow mocking config.LoadDefaultConfig in tests
var configLoadFunc = awsconfig.LoadDefaultConfig

// Clients bundles the SDK clients shared by all requests.
type Clients struct {
	AWS      aws.Config
	DynamoDB *dynamodb.Client
	KMS      *kms.Client
}

// IsLambdaEnvironment detects if running in AWS Lambda.
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// New loads the AWS configuration and creates the clients. The HTTP client
// timeout bounds every store call even when the caller passes no deadline.
func New(ctx context.Context, cfg config.AWSConfig) (*Clients, error) {
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithRetryMaxAttempts(maxAttempts),
		awsconfig.WithHTTPClient(newHTTPClient(timeout)),
	}

	// DynamoDB Local and LocalStack accept any static credentials.
	if cfg.Endpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}

	awsCfg, err := configLoadFunc(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "ppmt-amp-api"
				o.Duration = time.Hour
			}))
	}

	ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Clients{
		AWS:      awsCfg,
		DynamoDB: ddb,
		KMS:      kms.NewFromConfig(awsCfg),
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	if IsLambdaEnvironment() {
		transport.MaxIdleConns = 10
		transport.MaxIdleConnsPerHost = 10
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// KMSDecrypter is the subset of the KMS client used for secrets.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// ResolveSecret returns the shared signing secret. A KMS ciphertext takes
// precedence over the plaintext value.
func ResolveSecret(ctx context.Context, auth config.AuthConfig, kmsClient KMSDecrypter) ([]byte, error) {
	if auth.SecretCiphertext == "" {
		if auth.Secret == "" {
			return nil, fmt.Errorf("APP_SECRET or APP_SECRET_CIPHERTEXT is required")
		}
		return []byte(auth.Secret), nil
	}

	blob, err := base64.StdEncoding.DecodeString(auth.SecretCiphertext)
	if err != nil {
		return nil, fmt.Errorf("APP_SECRET_CIPHERTEXT is not base64: %w", err)
	}
	out, err := kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return nil, fmt.Errorf("kms Decrypt failed: %w", err)
	}
	if len(out.Plaintext) == 0 {
		return nil, fmt.Errorf("decrypted secret is empty")
	}
	return out.Plaintext, nil
}
