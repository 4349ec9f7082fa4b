// Package runner drives quiz chains: fetch page, extract plan, load data,
// synthesize and execute solver code, submit, follow the next-quiz link. One
// Runner serves many concurrent chains; each Run owns its ChainState and the
// chains share nothing mutable.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quizagent/internal/dataset"
	"quizagent/internal/planner"
	"quizagent/internal/sandbox"
)

// Status is the chain lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusStuck   Status = "stuck"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// StepResult is the grader's verdict for one submission.
type StepResult struct {
	Correct bool   `json:"correct"`
	URL     string `json:"url,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ChainState is the mutable record of one chain run. It is owned by Run for
// the duration of the chain and snapshotted into the recorder as it evolves.
type ChainState struct {
	ID         string
	CurrentURL string
	Email      string
	Secret     string
	Deadline   time.Time
	Status     Status
	Steps      int
	LastResult *StepResult
	Err        string
}

// PageFetcher renders a quiz page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (html, text string, err error)
}

// PlanExtractor turns page content into a Plan.
type PlanExtractor interface {
	Extract(ctx context.Context, pageContent, pageURL string) (*planner.Plan, error)
}

// ResourceLoader downloads data files and authenticated API responses.
type ResourceLoader interface {
	LoadFiles(ctx context.Context, urls []string) (dataset.Bundle, error)
	FetchAPIs(ctx context.Context, urls []string, email, secret string) (dataset.Bundle, error)
}

// CodeSynthesizer generates solver source for one question.
type CodeSynthesizer interface {
	Synthesize(ctx context.Context, mode sandbox.Mode, question, pageText, dataDescr string) (string, error)
}

// Executor runs synthesized code against a bundle.
type Executor interface {
	Execute(ctx context.Context, mode sandbox.Mode, code string, data map[string]interface{}) (interface{}, error)
}

// Submitter posts an answer payload and returns the verdict.
type Submitter interface {
	Submit(ctx context.Context, submitURL string, payload map[string]interface{}) (*StepResult, error)
}

// Recorder observes chain state snapshots. Implementations must not block
// the chain; recording failures are logged, never fatal.
type Recorder interface {
	Record(ctx context.Context, state ChainState) error
}

// Runner wires the collaborators for chain runs.
type Runner struct {
	fetcher   PageFetcher
	extractor PlanExtractor
	loader    ResourceLoader
	synth     CodeSynthesizer
	executor  Executor
	submitter Submitter
	recorder  Recorder

	mode      sandbox.Mode
	maxSteps  int
	overrides SubmitOverrides

	now    func() time.Time
	logger *zap.Logger
}

// Options configures a Runner.
type Options struct {
	Mode            sandbox.Mode
	MaxSteps        int
	SubmitOverrides SubmitOverrides
	Recorder        Recorder
}

// New creates a Runner.
func New(fetcher PageFetcher, extractor PlanExtractor, loader ResourceLoader,
	synth CodeSynthesizer, executor Executor, submitter Submitter,
	opts Options, logger *zap.Logger) *Runner {

	mode := opts.Mode
	if mode == "" {
		mode = sandbox.ModeMaterialized
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 50
	}

	return &Runner{
		fetcher:   fetcher,
		extractor: extractor,
		loader:    loader,
		synth:     synth,
		executor:  executor,
		submitter: submitter,
		recorder:  opts.Recorder,
		mode:      mode,
		maxSteps:  maxSteps,
		overrides: opts.SubmitOverrides,
		now:       time.Now,
		logger:    logger,
	}
}

// Run drives the chain starting at url until it terminates. The deadline is
// absolute: time spent on earlier steps counts against later ones. A failed
// step aborts the whole chain; quizzes are not safe to resubmit, so there is
// no retry at this level.
func (r *Runner) Run(ctx context.Context, id, url, email, secret string, deadline time.Time) ChainState {
	state := ChainState{
		ID:         id,
		CurrentURL: url,
		Email:      email,
		Secret:     secret,
		Deadline:   deadline,
		Status:     StatusRunning,
	}
	r.record(ctx, state)

	for state.CurrentURL != "" && state.Steps < r.maxSteps {
		// Checked before any work: no partial step is attempted past the
		// deadline.
		if !r.now().Before(state.Deadline) {
			state.Status = StatusTimeout
			break
		}

		state.Steps++
		r.logger.Info("starting quiz step",
			zap.String("chain", state.ID),
			zap.Int("step", state.Steps),
			zap.String("url", state.CurrentURL))

		result, err := r.step(ctx, &state)
		if err != nil {
			state.Status = StatusError
			state.Err = err.Error()
			r.logger.Error("quiz step failed",
				zap.String("chain", state.ID), zap.Int("step", state.Steps), zap.Error(err))
			break
		}

		state.LastResult = result
		r.record(ctx, state)
		r.logger.Info("quiz step submitted",
			zap.String("chain", state.ID),
			zap.Int("step", state.Steps),
			zap.Bool("correct", result.Correct),
			zap.String("next_url", result.URL))

		if result.URL != "" {
			// The grader decides whether to advance, even past a wrong
			// answer.
			state.CurrentURL = result.URL
			continue
		}
		state.CurrentURL = ""
		if result.Correct {
			state.Status = StatusDone
		} else {
			state.Status = StatusStuck
		}
	}

	if state.Status == StatusRunning {
		// Loop left only via the step ceiling.
		state.Status = StatusError
		state.Err = fmt.Sprintf("step ceiling (%d) reached", r.maxSteps)
	}

	r.record(ctx, state)
	r.logger.Info("quiz chain finished",
		zap.String("chain", state.ID),
		zap.String("status", string(state.Status)),
		zap.Int("steps", state.Steps))
	return state
}

// step executes one quiz end to end and returns the grader's verdict.
func (r *Runner) step(ctx context.Context, state *ChainState) (*StepResult, error) {
	html, text, err := r.fetcher.Fetch(ctx, state.CurrentURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	plan, err := r.extractor.Extract(ctx, html, state.CurrentURL)
	if err != nil {
		return nil, fmt.Errorf("extract plan: %w", err)
	}

	bundle, err := r.buildBundle(ctx, state, plan)
	if err != nil {
		return nil, err
	}

	code, err := r.synth.Synthesize(ctx, r.mode, plan.QuestionSummary, text, bundle.Describe())
	if err != nil {
		return nil, fmt.Errorf("synthesize code: %w", err)
	}

	answer, err := r.executor.Execute(ctx, r.mode, code, bundle.RawMap())
	if err != nil {
		return nil, fmt.Errorf("execute code: %w", err)
	}

	if plan.AnswerType == planner.AnswerNumber {
		answer = coerceNumber(answer)
	}

	payload := MergePayload(plan.AnswerJSONTemplate, state.Email, state.Secret, state.CurrentURL, answer)
	submitURL := r.overrides.Correct(plan.SubmitURL, state.CurrentURL)
	if submitURL != plan.SubmitURL {
		r.logger.Warn("submit url corrected",
			zap.String("planned", plan.SubmitURL), zap.String("corrected", submitURL))
	}

	result, err := r.submitter.Submit(ctx, submitURL, payload)
	if err != nil {
		return nil, fmt.Errorf("submit answer: %w", err)
	}
	return result, nil
}

// buildBundle assembles the step's DataBundle. In materialized mode files and
// APIs are downloaded up front; in self-fetch mode only the URL lists are
// passed through and the generated code does its own fetching.
func (r *Runner) buildBundle(ctx context.Context, state *ChainState, plan *planner.Plan) (dataset.Bundle, error) {
	bundle := dataset.Bundle{}

	if r.mode == sandbox.ModeSelfFetch {
		if len(plan.FileURLs) > 0 {
			bundle["file_urls"] = &dataset.JSONValue{V: toAny(plan.FileURLs)}
		}
		if len(plan.APIURLs) > 0 {
			bundle["api_urls"] = &dataset.JSONValue{V: toAny(plan.APIURLs)}
		}
	} else {
		if len(plan.FileURLs) > 0 {
			files, err := r.loader.LoadFiles(ctx, plan.FileURLs)
			if err != nil {
				return nil, fmt.Errorf("load files: %w", err)
			}
			for k, v := range files {
				bundle[k] = v
			}
		}
		if len(plan.APIURLs) > 0 {
			apis, err := r.loader.FetchAPIs(ctx, plan.APIURLs, state.Email, state.Secret)
			if err != nil {
				return nil, fmt.Errorf("fetch apis: %w", err)
			}
			for k, v := range apis {
				bundle[k] = v
			}
		}
	}

	bundle.InjectReserved(state.Email, state.Secret, state.CurrentURL)
	return bundle, nil
}

func (r *Runner) record(ctx context.Context, state ChainState) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, state); err != nil {
		r.logger.Warn("record chain state", zap.String("chain", state.ID), zap.Error(err))
	}
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
