package engine

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/viralforge/config"
	"github.com/mohammad-safakhou/viralforge/internal/prompt"
	"github.com/mohammad-safakhou/viralforge/internal/repair"
	"github.com/mohammad-safakhou/viralforge/provider"
)

// stepExecutor performs exactly one request/response cycle for a step. It
// never retries internally; retries would double-bill token usage and
// obscure failure accounting, so the recovery path owns them.
type stepExecutor struct {
	provider provider.Provider
	routing  config.LLMRoutingConfig
	timeout  time.Duration
}

// stepOutcome is everything one successful step execution produces.
type stepOutcome struct {
	Result StepResult
	Fields map[string]interface{}
	Prompt string
	Raw    string
	Usage  provider.Usage
}

func (e *stepExecutor) run(ctx context.Context, spec StepSpec, stepCtx map[string]interface{}) (stepOutcome, error) {
	applyDefaults(stepCtx, spec)

	rendered, err := prompt.Render(spec.Template, stepCtx)
	if err != nil {
		return stepOutcome{}, NewError(KindUnresolvedPlaceholder, "%s step: %v", spec.Name, err)
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	model := e.routing.ModelFor(spec.Name)
	raw, usage, err := e.provider.Generate(callCtx, rendered, model, provider.Options{
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return stepOutcome{}, NewError(KindServiceUnavailable, "%s step: %v", spec.Name, err)
	}

	fields, err := repair.Decode(raw)
	if err != nil {
		return stepOutcome{Prompt: rendered, Raw: raw, Usage: usage},
			NewError(KindMalformedResult, "%s step: response is not valid JSON after repair: %v", spec.Name, err)
	}

	result, verr := typedResult(spec, fields)
	if verr != nil {
		return stepOutcome{Prompt: rendered, Raw: raw, Usage: usage}, verr
	}

	return stepOutcome{
		Result: result,
		Fields: fields,
		Prompt: rendered,
		Raw:    raw,
		Usage:  usage,
	}, nil
}

// typedResult validates the parsed fields against the step's required set
// and wraps them in the step's result type. Missing fields are reported,
// not defaulted, because downstream phases build on them.
func typedResult(spec StepSpec, fields map[string]interface{}) (StepResult, *Error) {
	for _, key := range spec.Required {
		v, ok := fields[key]
		if !ok || v == nil {
			return nil, NewError(KindMalformedResult, "%s step: required field %q missing from result", spec.Name, key)
		}
	}
	switch spec.Name {
	case StepThink:
		return ThinkResult{Plan: stringField(fields, "plan"), Raw: fields}, nil
	case StepExecute:
		return ExecuteResult{Output: stringField(fields, "output"), Raw: fields}, nil
	case StepIntegrate:
		return IntegrateResult{
			Summary:  stringField(fields, "summary"),
			PostText: stringField(fields, "post_text"),
			Raw:      fields,
		}, nil
	}
	return nil, NewError(KindMalformedResult, "unknown step %q", spec.Name)
}

func stringField(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return prompt.Stringify(v)
}
