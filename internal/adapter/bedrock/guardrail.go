package bedrock

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	br "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
)

// Guardrail inspects model output with a configured Bedrock guardrail.
type Guardrail struct {
	api     API
	id      string
	version string
}

// NewGuardrail creates a Guardrail for the given identifier and version.
func NewGuardrail(api API, id, version string) *Guardrail {
	return &Guardrail{api: api, id: id, version: version}
}

func (g *Guardrail) Inspect(ctx context.Context, text string) (llm.Verdict, error) {
	out, err := g.api.ApplyGuardrail(ctx, &br.ApplyGuardrailInput{
		GuardrailIdentifier: aws.String(g.id),
		GuardrailVersion:    aws.String(g.version),
		Source:              types.GuardrailContentSourceOutput,
		Content: []types.GuardrailContentBlock{
			&types.GuardrailContentBlockMemberText{Value: types.GuardrailTextBlock{Text: aws.String(text)}},
		},
	})
	if err != nil {
		return llm.Verdict{}, fmt.Errorf("bedrock apply guardrail: %w", err)
	}
	if out.Action != types.GuardrailActionGuardrailIntervened {
		return llm.Verdict{}, nil
	}

	parts := make([]string, 0, len(out.Outputs))
	for _, o := range out.Outputs {
		if t := aws.ToString(o.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return llm.Verdict{Intervened: true, Output: strings.Join(parts, " ")}, nil
}
