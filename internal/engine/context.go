package engine

import (
	"time"
)

// BuildContext assembles the ephemeral context map for one step invocation:
// session inputs, every completed prior phase's INTEGRATE result merged in
// phase order (later phases win on key collision), then the current phase's
// own THINK/EXECUTE results so far. The map is discarded after the step.
func BuildContext(s *Session, prior []*PhaseRecord, current *PhaseRecord) map[string]interface{} {
	ctx := map[string]interface{}{
		"topic":    s.Topic,
		"platform": s.Platform,
		"tone":     s.Tone,
	}
	for _, p := range prior {
		if p == nil || p.Integrate == nil {
			continue
		}
		for k, v := range p.Integrate.Result {
			ctx[k] = v
		}
	}
	if current != nil {
		if current.Think != nil {
			for k, v := range current.Think.Result {
				ctx[k] = v
			}
		}
		if current.Execute != nil {
			for k, v := range current.Execute.Result {
				ctx[k] = v
			}
		}
	}
	return ctx
}

// applyDefaults fills context keys a predecessor step left missing or
// semantically empty, so the step still runs on best-effort inputs.
func applyDefaults(ctx map[string]interface{}, spec StepSpec) {
	for k, v := range spec.Defaults {
		cur, ok := ctx[k]
		if !ok || emptyValue(cur) {
			ctx[k] = v
		}
	}
}

func emptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

// RecordStepResult is the only path by which a phase record is mutated. It
// stores the rendered prompt, raw response, parsed result and usage for the
// step, overwriting any previous attempt in full.
func RecordStepResult(p *PhaseRecord, step string, prompt, raw string, result map[string]interface{}, tokens int64, cost float64, now time.Time) {
	rec := &StepRecord{
		Prompt:      prompt,
		RawResponse: raw,
		Result:      result,
		Tokens:      tokens,
		Cost:        cost,
		CompletedAt: now,
	}
	switch step {
	case StepThink:
		p.Think = rec
	case StepExecute:
		p.Execute = rec
	case StepIntegrate:
		p.Integrate = rec
	}
	p.UpdatedAt = now
}
