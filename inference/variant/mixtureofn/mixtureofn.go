// Package mixtureofn implements the mixture-of-n variant: run N candidate
// variants concurrently, then ask a fuser model to synthesize one final
// response from all of their outputs (as opposed to best-of-n, which
// selects a single candidate verbatim). It shares best-of-n's concurrent
// fan-out shape, grounded the same way on golang.org/x/sync/errgroup.
package mixtureofn

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider"
	"github.com/tensorzero/inference-core/inference/template"
	"github.com/tensorzero/inference-core/inference/variant"
)

// Variant implements variant.Variant for a mixture_of_n config.
type Variant struct {
	name     string
	params   config.MixtureOfNParams
	deps     variant.Deps
	resolver variant.Resolver
}

// New constructs a mixture-of-n Variant.
func New(name, functionName string, params config.MixtureOfNParams, deps variant.Deps, resolver variant.Resolver) *Variant {
	return &Variant{name: name, params: params, deps: deps, resolver: resolver}
}

func (v *Variant) timeout() time.Duration {
	secs := v.params.TimeoutSeconds
	if secs <= 0 {
		secs = config.DefaultVariantTimeout
	}
	return time.Duration(secs * float64(time.Second))
}

type candidateOutcome struct {
	name         string
	text         string
	usage        provider.Usage
	modelResults []variant.ModelInferenceResult
	err          error
}

func (v *Variant) runCandidates(ctx context.Context, functionName string, req *variant.Request) []candidateOutcome {
	outcomes := make([]candidateOutcome, len(v.params.Candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range v.params.Candidates {
		i, cand := i, cand
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, v.timeout())
			defer cancel()

			sub, err := v.resolver.Variant(functionName, cand.Name)
			if err != nil {
				outcomes[i] = candidateOutcome{name: cand.Name, err: err}
				return nil
			}
			candReq := *req
			candReq.ExtraCacheKey = strconv.Itoa(i)
			res, err := sub.Infer(cctx, &candReq)
			if err != nil {
				outcomes[i] = candidateOutcome{name: cand.Name, err: err}
				return nil
			}
			outcomes[i] = candidateOutcome{
				name:         cand.Name,
				text:         flattenText(res.Content),
				usage:        res.Usage,
				modelResults: res.ModelInferenceResults,
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func flattenText(parts []content.Part) string {
	var out string
	for _, p := range parts {
		if t, ok := p.(content.TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// Infer implements variant.Variant.
func (v *Variant) Infer(ctx context.Context, req *variant.Request) (*variant.Result, error) {
	outcomes := v.runCandidates(ctx, req.FunctionName, req)

	succeeded := make([]candidateOutcome, 0, len(outcomes))
	errs := make(map[string]error)
	for _, o := range outcomes {
		if o.err != nil {
			errs[o.name] = o.err
			continue
		}
		succeeded = append(succeeded, o)
	}
	if len(succeeded) == 0 {
		return nil, &ierrors.AllVariantsFailed{Errors: errs}
	}
	baseResults := make([]variant.ModelInferenceResult, 0, len(succeeded)+1)
	baseUsage := provider.Usage{}
	for _, o := range succeeded {
		baseResults = append(baseResults, o.modelResults...)
		baseUsage.InputTokens += o.usage.InputTokens
		baseUsage.OutputTokens += o.usage.OutputTokens
	}

	if len(succeeded) == 1 {
		// Nothing to fuse; a single surviving candidate is the answer.
		return &variant.Result{
			Content:               []content.Part{content.TextPart{Text: succeeded[0].text}},
			Usage:                 baseUsage,
			VariantName:           v.name,
			ProviderName:          "mixture_of_n:" + succeeded[0].name,
			ModelInferenceResults: baseResults,
		}, nil
	}

	fused, fuseResult, err := v.fuse(ctx, succeeded)
	if err != nil {
		// Per spec.md §4.2.2, a fuser failure picks a uniform random
		// candidate rather than always the first surviving one.
		fused = succeeded[rand.Intn(len(succeeded))].text //nolint:gosec // not security-sensitive
	}
	modelResults := baseResults
	usage := baseUsage
	if fuseResult != nil {
		modelResults = append(modelResults, *fuseResult)
		usage.InputTokens += fuseResult.Usage.InputTokens
		usage.OutputTokens += fuseResult.Usage.OutputTokens
	}
	return &variant.Result{
		Content:               []content.Part{content.TextPart{Text: fused}},
		Usage:                 usage,
		VariantName:           v.name,
		ProviderName:          "mixture_of_n",
		ModelInferenceResults: modelResults,
	}, nil
}

// fuse asks the fuser model to synthesize one response from candidates. It
// returns the fuser's ModelInferenceResult whenever the call itself
// succeeded, even alongside an error, so the caller can still account for
// its usage when falling back to a candidate's own text.
func (v *Variant) fuse(ctx context.Context, candidates []candidateOutcome) (string, *variant.ModelInferenceResult, error) {
	model, err := v.deps.Models.Lookup(v.params.FuserModel)
	if err != nil {
		return "", nil, err
	}
	sysText, err := v.deps.Templates.Render(template.MixtureOfNFuserSystem, map[string]any{})
	if err != nil {
		return "", nil, err
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.text
	}
	userText, err := v.deps.Templates.Render(template.MixtureOfNFuserCandidates, map[string]any{"candidates": texts})
	if err != nil {
		return "", nil, err
	}

	pr := &provider.Request{
		Model:  model.Routing[0],
		System: sysText,
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: userText}}},
		},
	}
	res, err := v.deps.Router.Infer(ctx, model, pr)
	if err != nil {
		return "", nil, err
	}
	fuseResult := &variant.ModelInferenceResult{
		ModelName:    v.params.FuserModel,
		ProviderName: res.ProviderName,
		Usage:        res.Response.Usage,
		FinishReason: res.Response.FinishReason,
		RawRequest:   res.Response.RawRequest,
		RawResponse:  res.Response.RawResponse,
	}
	return flattenText(res.Response.Content), fuseResult, nil
}

// InferStream implements variant.Variant. Like best-of-n, mixture-of-n has
// no streaming form: fusion needs every candidate's completed output.
func (v *Variant) InferStream(ctx context.Context, req *variant.Request) (provider.Streamer, error) {
	return nil, ierrors.New(ierrors.KindInvalidRequest, "mixture_of_n variant does not support streaming")
}
