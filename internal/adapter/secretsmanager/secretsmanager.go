// Package secretsmanager implements the secret store port on AWS Secrets Manager.
package secretsmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	sm "github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
)

// API is the subset of the Secrets Manager client used here.
type API interface {
	GetSecretValue(ctx context.Context, in *sm.GetSecretValueInput, optFns ...func(*sm.Options)) (*sm.GetSecretValueOutput, error)
}

// Store fetches secret strings by name or ARN.
type Store struct {
	api API
}

// New creates a Store from an AWS config.
func New(cfg aws.Config) *Store {
	return &Store{api: sm.NewFromConfig(cfg)}
}

// NewWithAPI creates a Store over a custom client.
func NewWithAPI(api API) *Store {
	return &Store{api: api}
}

func (s *Store) FetchSecret(ctx context.Context, id string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &sm.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", secretstore.ErrNotFound, id)
		}
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}
	return *out.SecretString, nil
}
