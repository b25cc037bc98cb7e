package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"illustrated_answer/admission"
	"illustrated_answer/apperr"
	"illustrated_answer/config"
	"illustrated_answer/generator"
	"illustrated_answer/logger"
	"illustrated_answer/media"
	"illustrated_answer/observability"
	"illustrated_answer/pipeline"
	"illustrated_answer/publisher"
	"illustrated_answer/server"
	"illustrated_answer/store"
	"illustrated_answer/vision"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup (log sync, tracing
// shutdown) happens before the process exits.
func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to config file (.json, .yaml or .yml)")
	serve := flag.Bool("serve", false, "start web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides config.server_addr)")
	question := flag.String("q", "", "question to answer (one-shot mode)")
	apiKey := flag.String("api-key", "", "Gemini API key for the direct path (default GEMINI_API_KEY)")
	directOnly := flag.Bool("direct-only", false, "skip the relay and call the model directly")
	verbose := flag.Bool("v", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, err := logger.New(cfg.LogMode, *verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, log, cfg.Tracing)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	p, err := buildPipeline(cfg, log)
	if err != nil {
		log.Error("pipeline setup failed", "error", err)
		return 1
	}

	if *serve {
		if err := runServer(ctx, cfg, log, p, *addr); err != nil {
			log.Error("server stopped", "error", err)
			return 1
		}
		return 0
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Fprintln(os.Stderr, "-q is required unless --serve is set")
		return 2
	}
	key := *apiKey
	if key == "" {
		key = cfg.Vision.APIKey
	}
	strategy := vision.RelayFirst
	if *directOnly || cfg.Vision.DirectOnly {
		strategy = vision.DirectOnly
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout))
	defer cancel()
	res, err := p.Run(runCtx, pipeline.Request{Question: *question, APIKey: key, Strategy: strategy}, func(e pipeline.Event) {
		if pv, ok := e.Preview(); ok {
			log.Info("image admitted", "title", pv.Title, "license", pv.License)
			return
		}
		log.Info("progress", "stage", string(e.Kind), "count", e.Count)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}
	fmt.Println(res.Answer.HTML)
	return 0
}

// exitCode maps caller mistakes to 2 and everything else to 1.
func exitCode(err error) int {
	if apperr.Is(err, apperr.KindValidation) || apperr.Is(err, apperr.KindCredentialRequired) {
		return 2
	}
	return 1
}

func buildPipeline(cfg config.Config, log *logger.Logger) (*pipeline.Pipeline, error) {
	commons := media.NewClient(
		media.WithAPIURL(cfg.Commons.APIURL),
		media.WithUserAgent(cfg.Commons.UserAgent),
		media.WithResultsPerTerm(cfg.Commons.ResultsPerTerm),
		media.WithLogger(log.With("service", "CommonsClient")),
	)
	adm := admission.New(commons, admission.Limits{
		MaxImageBytes: cfg.Admission.MaxImageBytes,
		MaxTotalBytes: cfg.Admission.MaxTotalBytes,
		MaxImages:     cfg.Admission.MaxImages,
	}, log.With("service", "Admission"))

	var relay vision.Endpoint
	if cfg.Vision.RelayURL != "" {
		relay = vision.NewRelayEndpoint(cfg.Vision.RelayURL, cfg.Vision.Model)
	}
	invoker := vision.NewInvoker(relay, vision.NewDirectEndpoint(cfg.Vision.Model), log.With("service", "ModelInvoker"))

	deps := pipeline.Deps{
		Images:    commons,
		Admission: adm,
		Invoker:   invoker,
		Composer:  publisher.NewComposer(log.With("service", "Composer")),
		Log:       log,
	}
	llm, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}
	if llm != nil {
		terms, err := generator.NewTermGenerator(llm)
		if err != nil {
			return nil, err
		}
		deps.Terms = terms
	}
	return pipeline.New(deps, pipeline.Settings{
		Concurrency:   cfg.Concurrency,
		MaxCandidates: cfg.Commons.MaxCandidates,
	})
}

// buildLLM 未配置 provider 时返回 nil，搜索词改由视觉模型生成。
func buildLLM(cfg config.Config) (generator.LLMClient, error) {
	if cfg.LLM == nil || cfg.LLM.Provider == "" {
		return nil, nil
	}
	settings := &generator.LLMSettings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	}
	switch cfg.LLM.Provider {
	case "openai":
		return generator.NewOpenAILLMFromConfig(settings)
	case "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url（例如官方/网关地址）。
		if cfg.LLM.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAILLMFromConfig(settings)
	case "gemini":
		return generator.NewGeminiLLMFromConfig(settings)
	case "mock":
		return generator.MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}

func runServer(ctx context.Context, cfg config.Config, log *logger.Logger, p *pipeline.Pipeline, addrFlag string) error {
	var (
		shares store.ShareRepo = store.NewMemoryShareRepo()
		views  store.ViewCounter
	)
	if cfg.Database.DSN != "" {
		db, err := store.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := store.NewPostgresShareRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		shares = repo
		log.Info("shares stored in postgres")
	} else {
		log.Warn("DATABASE_URL not set, shares are kept in memory")
	}
	if cfg.Redis.Addr != "" {
		counter, err := store.NewRedisViewCounter(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer counter.Close()
		views = counter
	}

	if strings.EqualFold(cfg.LogMode, "prod") || strings.EqualFold(cfg.LogMode, "production") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv, err := server.New(p, shares, views, log, server.Options{
		Timeout:      time.Duration(cfg.Timeout),
		DirectOnly:   cfg.Vision.DirectOnly,
		APIKey:       cfg.Vision.APIKey,
		AllowOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}

	listen := cfg.ServerAddr
	if addrFlag != "" {
		listen = addrFlag
	}
	if listen == "" {
		listen = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	log.Info("starting web server", "addr", listen)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
