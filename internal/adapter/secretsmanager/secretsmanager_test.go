package secretsmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sm "github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
)

type fakeAPI struct {
	values map[string]*string
	gotIDs []string
}

func (f *fakeAPI) GetSecretValue(_ context.Context, in *sm.GetSecretValueInput, _ ...func(*sm.Options)) (*sm.GetSecretValueOutput, error) {
	id := aws.ToString(in.SecretId)
	f.gotIDs = append(f.gotIDs, id)
	v, ok := f.values[id]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &sm.GetSecretValueOutput{SecretString: v}, nil
}

func TestFetchSecret(t *testing.T) {
	api := &fakeAPI{values: map[string]*string{
		"arn:aws:secretsmanager:us-east-1:1:secret:hmac": aws.String("key"),
		"binary": nil,
	}}
	s := NewWithAPI(api)
	ctx := context.Background()

	got, err := s.FetchSecret(ctx, "arn:aws:secretsmanager:us-east-1:1:secret:hmac")
	if err != nil || got != "key" {
		t.Fatalf("FetchSecret = %q, %v", got, err)
	}
	if _, err := s.FetchSecret(ctx, "missing"); !errors.Is(err, secretstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FetchSecret(ctx, "binary"); err == nil {
		t.Fatal("expected error for secret without string value")
	}
	if len(api.gotIDs) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(api.gotIDs))
	}
}
