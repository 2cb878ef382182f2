package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/cache"
	"gopherai-rag/internal/classifier"
	"gopherai-rag/internal/index"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/websearch"
)

const (
	modelConversational        = "conversational"
	finishConversational       = "conversational_response"
	classificationNoContext    = "no_context_available"
	classificationSummary      = "summary"
	classificationQA           = "question_answering"
	noContextPrompt            = "Please provide a helpful response to: "
	summarySearchLimit         = 5
	qaSearchLimit              = 8
	summaryTemperature         = 0.3
	qaTemperature              = 0.5
	defaultMaxLength           = 500
	defaultSummaryLength       = 200
	defaultGenerateTemperature = 0.7
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrGeneration   = errors.New("content generation failed")
)

type Generator interface {
	Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (*ai.GenerationResult, error)
	GenerateWithContext(ctx context.Context, query, contextText string, tmpl ai.TemplateType, opts ai.GenerateOptions) (*ai.GenerationResult, error)
}

type KnowledgeBase interface {
	Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
	Size() int
}

type WebSearcher interface {
	Search(ctx context.Context, query string, count int) ([]websearch.Result, error)
}

// RAGConfig holds the retrieval policy. Zero fields take the defaults.
type RAGConfig struct {
	ClassifierThreshold float64
	RelevanceThreshold  float64
	KBFloor             float64
	MinWebSources       int
	MinSearchResults    int
	MaxContextTokens    int
	WebResults          int
	SearchLimit         int
	MaxSources          int
	ResultTTL           time.Duration
	SearchTTL           time.Duration
	LockTTL             time.Duration
}

func (c RAGConfig) withDefaults() RAGConfig {
	if c.ClassifierThreshold <= 0 {
		c.ClassifierThreshold = classifier.DefaultThreshold
	}
	if c.RelevanceThreshold <= 0 {
		c.RelevanceThreshold = 0.7
	}
	if c.KBFloor <= 0 {
		c.KBFloor = 0.3
	}
	if c.MinWebSources <= 0 {
		c.MinWebSources = 2
	}
	if c.MinSearchResults <= 0 {
		c.MinSearchResults = 3
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 4000
	}
	if c.WebResults <= 0 {
		c.WebResults = 5
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 10
	}
	if c.MaxSources <= 0 {
		c.MaxSources = 5
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = time.Hour
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = 15 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

type GenerateRequest struct {
	Query        string
	MaxLength    int
	Temperature  float64
	TemplateType ai.TemplateType
	UseCache     bool
	UseWebSearch bool
	SearchLimit  int
}

// NewGenerateRequest returns a request with caching and web search enabled.
func NewGenerateRequest(query string) GenerateRequest {
	return GenerateRequest{
		Query:        query,
		MaxLength:    defaultMaxLength,
		Temperature:  defaultGenerateTemperature,
		TemplateType: ai.TemplateRAG,
		UseCache:     true,
		UseWebSearch: true,
	}
}

type Health struct {
	Cache     bool `json:"cache"`
	IndexRows int  `json:"index_rows"`
	WebSearch bool `json:"web_search"`
}

// RAGService answers queries, retrieving context from the web and the
// knowledge base when the query calls for it. The web searcher and the cache
// are optional.
type RAGService struct {
	generator Generator
	kb        KnowledgeBase
	web       WebSearcher
	cache     *cache.Cache
	cfg       RAGConfig
	logger    *slog.Logger
	stats     statsCollector
}

func NewRAGService(generator Generator, kb KnowledgeBase, web WebSearcher, c *cache.Cache, cfg RAGConfig, logger *slog.Logger) *RAGService {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(nil, cache.Config{}, cache.WithLogger(logger))
	}
	return &RAGService{
		generator: generator,
		kb:        kb,
		web:       web,
		cache:     c,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

func (s *RAGService) Generate(ctx context.Context, req GenerateRequest) (*model.RAGResult, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if req.MaxLength <= 0 {
		req.MaxLength = defaultMaxLength
	}
	if req.Temperature <= 0 {
		req.Temperature = defaultGenerateTemperature
	}
	req.TemplateType = ai.ParseTemplateType(string(req.TemplateType))
	if req.SearchLimit <= 0 {
		req.SearchLimit = s.cfg.SearchLimit
	}
	s.stats.request()

	useRAG, reason := classifier.ShouldUseRAG(query, s.cfg.ClassifierThreshold)
	if !useRAG {
		s.stats.conversational()
		s.logger.Info("conversational query", "query", query, "reason", reason)
		return &model.RAGResult{
			Content:        classifier.ConversationalResponse(query),
			Sources:        model.Sources{},
			Query:          query,
			ModelUsed:      modelConversational,
			FinishReason:   finishConversational,
			Timings:        model.Timings{Response: time.Since(start)},
			Classification: reason,
		}, nil
	}

	key := requestKey(query, req.MaxLength, req.Temperature, req.TemplateType)
	if req.UseCache {
		var cached model.RAGResult
		if s.cache.Get(ctx, cache.Content, key, &cached) {
			return s.hit(&cached, start), nil
		}
		found, lock := s.cache.GetWithLock(ctx, cache.Content, key, &cached, s.cfg.LockTTL)
		if lock != nil {
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("release generation lock failed", "error", err)
				}
			}()
		}
		if found {
			return s.hit(&cached, start), nil
		}
	}

	var (
		webResults []websearch.Result
		kbResults  []index.SearchResult
		webTime    time.Duration
		kbTime     time.Duration
	)
	searchStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if req.UseWebSearch && s.web != nil {
		g.Go(func() error {
			t := time.Now()
			webResults = s.searchWeb(gctx, query)
			webTime = time.Since(t)
			return nil
		})
	}
	g.Go(func() error {
		t := time.Now()
		kbResults = s.searchKnowledgeBase(gctx, query, req.SearchLimit)
		kbTime = time.Since(t)
		return nil
	})
	_ = g.Wait()
	searchTime := time.Since(searchStart)

	web := webSources(webResults)
	kb := kbSources(kbCandidates(kbResults, s.cfg.RelevanceThreshold, s.cfg.MinSearchResults), s.cfg.KBFloor)
	sources := mergeSources(web, kb, s.cfg.MinWebSources)
	contextText := assembleContext(sources, s.cfg.MaxContextTokens)

	opts := ai.GenerateOptions{MaxTokens: req.MaxLength, Temperature: req.Temperature}
	if contextText == "" {
		s.stats.noContext()
		s.logger.Info("no retrieval context, answering from the query alone", "query", query)
		gen, err := s.generate(func() (*ai.GenerationResult, error) {
			return s.generator.Generate(ctx, noContextPrompt+query, opts)
		})
		if err != nil {
			return nil, err
		}
		return &model.RAGResult{
			Content:        gen.Content,
			Sources:        model.Sources{},
			Query:          query,
			TokensUsed:     gen.TokensUsed,
			ModelUsed:      gen.Model,
			FinishReason:   gen.FinishReason,
			Timings:        model.Timings{Response: time.Since(start), Search: searchTime, WebSearch: webTime, KBSearch: kbTime, Generation: gen.ResponseTime},
			Classification: classificationNoContext,
		}, nil
	}

	genStart := time.Now()
	gen, err := s.generate(func() (*ai.GenerationResult, error) {
		return s.generator.GenerateWithContext(ctx, query, contextText, req.TemplateType, opts)
	})
	if err != nil {
		return nil, err
	}
	genTime := time.Since(genStart)

	returned := sources
	if len(returned) > s.cfg.MaxSources {
		returned = returned[:s.cfg.MaxSources]
	}
	result := &model.RAGResult{
		Content:      gen.Content,
		Sources:      returned,
		Query:        query,
		TokensUsed:   gen.TokensUsed,
		ModelUsed:    gen.Model,
		FinishReason: gen.FinishReason,
		Timings: model.Timings{
			Response:   time.Since(start),
			Search:     searchTime,
			WebSearch:  webTime,
			KBSearch:   kbTime,
			Generation: genTime,
		},
		UsedRAG:        true,
		Classification: reason,
		WebSources:     len(web),
		KBSources:      len(sources) - len(web),
	}

	if req.UseCache {
		s.cache.Set(ctx, cache.Content, key, result, s.cfg.ResultTTL)
	}
	s.stats.timings(result.Timings.Response, searchTime, genTime)
	s.logger.Info("rag response generated",
		"query", query,
		"web_sources", result.WebSources,
		"kb_sources", result.KBSources,
		"tokens", result.TokensUsed,
		"elapsed", result.Timings.Response,
	)
	return result, nil
}

// GenerateSummary summarizes content, adding related knowledge-base context
// when the index has any.
func (s *RAGService) GenerateSummary(ctx context.Context, content string, maxLength int) (*model.RAGResult, error) {
	start := time.Now()
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrInvalidInput
	}
	if maxLength <= 0 {
		maxLength = defaultSummaryLength
	}
	s.stats.request()

	searchStart := time.Now()
	results := s.searchKnowledgeBase(ctx, content, summarySearchLimit)
	searchTime := time.Since(searchStart)

	contextText := "Content to summarize:\n" + content + "\n\nRelated context:\n" + knowledgeContext(results, s.cfg.MaxContextTokens)
	query := fmt.Sprintf("Summarize this content in %d words or less", maxLength)
	gen, err := s.generate(func() (*ai.GenerationResult, error) {
		return s.generator.GenerateWithContext(ctx, query, contextText, ai.TemplateSummary,
			ai.GenerateOptions{MaxTokens: maxLength, Temperature: summaryTemperature})
	})
	if err != nil {
		return nil, err
	}

	sources := s.capSources(kbSources(results, 0))
	result := &model.RAGResult{
		Content:        gen.Content,
		Sources:        sources,
		Query:          query,
		TokensUsed:     gen.TokensUsed,
		ModelUsed:      gen.Model,
		FinishReason:   gen.FinishReason,
		Timings:        model.Timings{Response: time.Since(start), Search: searchTime, KBSearch: searchTime, Generation: gen.ResponseTime},
		UsedRAG:        len(results) > 0,
		Classification: classificationSummary,
		KBSources:      len(sources),
	}
	s.stats.timings(result.Timings.Response, searchTime, gen.ResponseTime)
	return result, nil
}

// GenerateQA answers a question from the knowledge base alone, falling back
// to an uncontextualized answer when nothing matches.
func (s *RAGService) GenerateQA(ctx context.Context, question string, maxLength int) (*model.RAGResult, error) {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrInvalidInput
	}
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}
	s.stats.request()

	searchStart := time.Now()
	results := s.searchKnowledgeBase(ctx, question, qaSearchLimit)
	searchTime := time.Since(searchStart)
	contextText := knowledgeContext(results, s.cfg.MaxContextTokens)

	opts := ai.GenerateOptions{MaxTokens: maxLength, Temperature: qaTemperature}
	if contextText == "" {
		s.stats.noContext()
		gen, err := s.generate(func() (*ai.GenerationResult, error) {
			return s.generator.Generate(ctx, noContextPrompt+question, opts)
		})
		if err != nil {
			return nil, err
		}
		return &model.RAGResult{
			Content:        gen.Content,
			Sources:        model.Sources{},
			Query:          question,
			TokensUsed:     gen.TokensUsed,
			ModelUsed:      gen.Model,
			FinishReason:   gen.FinishReason,
			Timings:        model.Timings{Response: time.Since(start), Search: searchTime, KBSearch: searchTime, Generation: gen.ResponseTime},
			Classification: classificationNoContext,
		}, nil
	}

	prompt := "Question: " + question + "\n\nAnswer based on the following context:"
	gen, err := s.generate(func() (*ai.GenerationResult, error) {
		return s.generator.GenerateWithContext(ctx, prompt, contextText, ai.TemplateQA, opts)
	})
	if err != nil {
		return nil, err
	}

	sources := s.capSources(kbSources(results, 0))
	result := &model.RAGResult{
		Content:        gen.Content,
		Sources:        sources,
		Query:          question,
		TokensUsed:     gen.TokensUsed,
		ModelUsed:      gen.Model,
		FinishReason:   gen.FinishReason,
		Timings:        model.Timings{Response: time.Since(start), Search: searchTime, KBSearch: searchTime, Generation: gen.ResponseTime},
		UsedRAG:        true,
		Classification: classificationQA,
		KBSources:      len(sources),
	}
	s.stats.timings(result.Timings.Response, searchTime, gen.ResponseTime)
	return result, nil
}

func (s *RAGService) Stats() Stats { return s.stats.snapshot() }

func (s *RAGService) HealthCheck(ctx context.Context) Health {
	h := Health{Cache: s.cache.Ping(ctx), WebSearch: s.web != nil}
	if s.kb != nil {
		h.IndexRows = s.kb.Size()
	}
	return h
}

func (s *RAGService) hit(cached *model.RAGResult, start time.Time) *model.RAGResult {
	s.stats.cacheHit()
	cached.Cached = true
	cached.Timings.Response = time.Since(start)
	if cached.Sources == nil {
		cached.Sources = model.Sources{}
	}
	s.logger.Info("rag response served from cache", "query", cached.Query)
	return cached
}

func (s *RAGService) generate(call func() (*ai.GenerationResult, error)) (*ai.GenerationResult, error) {
	gen, err := call()
	if err != nil {
		s.stats.failure()
		s.logger.Error("content generation failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return gen, nil
}

// searchWeb is best effort: failures yield no results. Non-empty results are
// cached for a short while.
func (s *RAGService) searchWeb(ctx context.Context, query string) []websearch.Result {
	key := webSearchKey(query, s.cfg.WebResults)
	var results []websearch.Result
	if s.cache.Get(ctx, cache.Search, key, &results) {
		return results
	}
	results, err := s.web.Search(ctx, query, s.cfg.WebResults)
	if err != nil {
		s.logger.Warn("web search failed", "query", query, "error", err)
		return nil
	}
	if len(results) > 0 {
		s.cache.Set(ctx, cache.Search, key, results, s.cfg.SearchTTL)
	}
	return results
}

func (s *RAGService) searchKnowledgeBase(ctx context.Context, query string, limit int) []index.SearchResult {
	if s.kb == nil {
		return nil
	}
	results, err := s.kb.Search(ctx, query, limit)
	if err != nil {
		s.logger.Warn("knowledge base search failed", "query", query, "error", err)
		return nil
	}
	return results
}

func (s *RAGService) capSources(src []model.Source) model.Sources {
	if len(src) > s.cfg.MaxSources {
		src = src[:s.cfg.MaxSources]
	}
	return model.Sources(src)
}

// requestKey is stable across processes for the same request parameters.
func requestKey(query string, maxLength int, temperature float64, tmpl ai.TemplateType) string {
	raw := query + ":" + strconv.Itoa(maxLength) + ":" + strconv.FormatFloat(temperature, 'f', -1, 64) + ":" + string(tmpl)
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func webSearchKey(query string, count int) string {
	sum := blake2b.Sum256([]byte("web:" + query + ":" + strconv.Itoa(count)))
	return hex.EncodeToString(sum[:])
}
