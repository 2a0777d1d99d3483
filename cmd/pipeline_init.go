package main

import (
	"context"
	"net"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/discovery-cli/internal/config"
	"github.com/sells-group/discovery-cli/internal/cost"
	"github.com/sells-group/discovery-cli/internal/discovery"
	"github.com/sells-group/discovery-cli/internal/knowledge"
	"github.com/sells-group/discovery-cli/internal/pipeline"
	"github.com/sells-group/discovery-cli/internal/reasoner"
	"github.com/sells-group/discovery-cli/internal/registry"
	"github.com/sells-group/discovery-cli/internal/resilience"
	"github.com/sells-group/discovery-cli/internal/scrape"
	"github.com/sells-group/discovery-cli/internal/search"
	"github.com/sells-group/discovery-cli/internal/validate"
	anthropicpkg "github.com/sells-group/discovery-cli/pkg/anthropic"
	"github.com/sells-group/discovery-cli/pkg/gemini"
	"github.com/sells-group/discovery-cli/pkg/jina"
)

// pipelineEnv holds the store, collaborators and job runner needed by the
// run/batch/serve commands.
type pipelineEnv struct {
	Store  knowledge.Store
	Runner *pipeline.Runner
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens and migrates the store,
// builds every collaborator and returns a ready Runner. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	deps, err := buildDeps(ctx, cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	runner := pipeline.NewRunner(pipeline.NewOrchestrator(deps), nil, pipeline.RunnerConfig{
		MaxConcurrent:   cfg.Batch.MaxConcurrentEntities,
		BudgetPerEntity: cfg.Search.BudgetPerEntity,
	})
	return &pipelineEnv{Store: st, Runner: runner}, nil
}

// buildDeps wires the orchestrator's collaborators from configuration.
func buildDeps(ctx context.Context, c *config.Config, st knowledge.Store) (pipeline.Deps, error) {
	breakers := resilience.NewBreakers(resilience.DefaultBreakerConfig())

	var jinaClient jina.Client
	if c.Jina.Key != "" {
		jinaOpts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL)}
		if c.Jina.SearchBaseURL != "" {
			jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
		}
		jinaClient = jina.NewClient(c.Jina.Key, jinaOpts...)
	}

	// Page fetching: local HTTP first, rendered fetch through Jina when a
	// key is configured.
	scrapers := []scrape.Scraper{scrape.NewLocalScraper(
		scrape.WithTimeout(secs(c.Scrape.PageTimeoutSecs)),
		scrape.WithUserAgent(c.Search.UserAgent),
		scrape.WithMaxBodyKB(c.Scrape.MaxBodyKB),
	)}
	if jinaClient != nil {
		scrapers = append(scrapers, scrape.NewJinaAdapter(jinaClient, time.Duration(c.Scrape.DynamicWaitMS)*time.Millisecond))
	}
	chain := scrape.NewChain(scrapers...)

	var robots *scrape.Robots
	if c.Scrape.RespectRobots {
		robots = scrape.NewRobots(c.Search.UserAgent, secs(c.Scrape.PageTimeoutSecs))
	}
	excluded := scrape.NewPathMatcher(c.Scrape.ExcludePaths)
	shared := scrape.NewSession(chain, scrape.NewDomainPolicy(nil, nil))

	// Registry resolution.
	lookupOpts := []registry.Option{registry.WithStaleAfter(days(c.Knowledge.StaleAfterDays))}
	if c.Registry.DatasetPath != "" {
		ds, err := registry.LoadDataset(c.Registry.DatasetPath)
		if err != nil {
			return pipeline.Deps{}, eris.Wrap(err, "load registry dataset")
		}
		zap.L().Info("registry dataset loaded", zap.Int("records", ds.Len()))
		lookupOpts = append(lookupOpts, registry.WithDataset(ds))
	}
	if c.Registry.PortalURL != "" {
		lookupOpts = append(lookupOpts, registry.WithPortal(registry.NewHTMLPortal(shared, c.Registry.PortalURL)))
	}

	// Search.
	var backend search.Backend
	switch c.Search.Backend {
	case "jina":
		if jinaClient != nil {
			backend = search.NewJinaBackend(jinaClient)
		}
	case "page":
		backend = search.NewPageBackend("page", c.Search.EngineURL, shared, search.DefaultExtractors())
	}
	var adapter *search.Adapter
	if backend != nil {
		adapterOpts := []search.AdapterOption{search.WithBreaker(breakers.Get("search:" + backend.Name()))}
		if c.Search.RateLimitRPS > 0 {
			adapterOpts = append(adapterOpts, search.WithLimiter(rate.NewLimiter(rate.Limit(c.Search.RateLimitRPS), 1)))
		}
		adapter = search.NewAdapter(backend, adapterOpts...)
	} else {
		zap.L().Warn("no search backend configured, discovery limited to official websites")
	}

	// Reasoning.
	llm, err := initLLM(ctx, c)
	if err != nil {
		return pipeline.Deps{}, err
	}

	// Validation.
	vcfg := validate.Config{
		MXCheck:   c.Validation.MXCheck,
		SMTPProbe: c.Validation.SMTPProbe,
		Timeout:   secs(c.Validation.TimeoutSecs),
		Weights:   c.Validation.Weights,
	}
	var prober validate.Prober
	if c.Validation.SMTPProbe {
		prober = validate.NewSMTPProber(c.Validation.SMTPHelo, c.Validation.SMTPFrom)
	}

	sources, err := config.LoadSources(c.SourcesFile)
	if err != nil {
		return pipeline.Deps{}, err
	}

	exec := discovery.DefaultConfig()
	if c.Search.MaxResults > 0 {
		exec.ResultsPerQuery = c.Search.MaxResults
	}

	return pipeline.Deps{
		Registry:  registry.NewLookup(st, lookupOpts...),
		Reasoners: reasoner.NewSelector(llm),
		Searchers: pipeline.AdapterSearchers(adapter),
		Fetchers:  pipeline.SessionFetchers(chain, robots, excluded),
		Validator: validate.New(net.DefaultResolver, prober, vcfg),
		Store:     st,
		Calc:      cost.NewCalculator(c.Rates()),
		Sources:   pipeline.SourcePolicy{Allow: sources.Allow, Deny: sources.Deny},
		Executor:  exec,
	}, nil
}

// initLLM builds the configured model-backed reasoner, or nil when the
// LLM is disabled or has no key.
func initLLM(ctx context.Context, c *config.Config) (*reasoner.LLM, error) {
	if !c.Reasoner.UseLLM {
		return nil, nil
	}
	llmCfg := reasoner.LLMConfig{
		Temperature: c.Reasoner.Temperature,
		Timeout:     secs(c.Reasoner.TimeoutSecs),
	}

	switch c.Reasoner.Provider {
	case reasoner.ProviderGemini:
		if c.Gemini.Key == "" {
			zap.L().Warn("gemini key not set, using rule-based reasoning")
			return nil, nil
		}
		client, err := gemini.NewClient(ctx, gemini.Config{APIKey: c.Gemini.Key, Model: c.Gemini.Model, BaseURL: c.Gemini.BaseURL})
		if err != nil {
			return nil, eris.Wrap(err, "init gemini")
		}
		return reasoner.NewLLM(reasoner.NewGeminiCompleter(client), llmCfg), nil
	default:
		if c.Anthropic.Key == "" {
			zap.L().Warn("anthropic key not set, using rule-based reasoning")
			return nil, nil
		}
		client := anthropicpkg.NewClient(c.Anthropic.Key)
		return reasoner.NewLLM(reasoner.NewAnthropicCompleter(client, c.Anthropic.Model), llmCfg), nil
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
