// Package gateway provides the query gateway server implementation.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	"github.com/kart-io/ragway/internal/gateway/biz"
	gwcache "github.com/kart-io/ragway/internal/gateway/cache"
	"github.com/kart-io/ragway/internal/gateway/handler"
	"github.com/kart-io/ragway/internal/gateway/router"
	"github.com/kart-io/ragway/internal/gateway/store"
	"github.com/kart-io/ragway/internal/gateway/worker"
	"github.com/kart-io/ragway/pkg/component/milvus"
	redisclient "github.com/kart-io/ragway/pkg/component/redis"
	"github.com/kart-io/ragway/pkg/infra/app"
	"github.com/kart-io/ragway/pkg/infra/pool"
	"github.com/kart-io/ragway/pkg/llm"
	"github.com/kart-io/ragway/pkg/llm/resilience"

	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/ragway/pkg/llm/deepseek"
	_ "github.com/kart-io/ragway/pkg/llm/gemini"
	_ "github.com/kart-io/ragway/pkg/llm/huggingface"
	_ "github.com/kart-io/ragway/pkg/llm/ollama"
	_ "github.com/kart-io/ragway/pkg/llm/openai"
	_ "github.com/kart-io/ragway/pkg/llm/siliconflow"

	cacheopts "github.com/kart-io/ragway/pkg/options/cache"
	classifieropts "github.com/kart-io/ragway/pkg/options/classifier"
	generationopts "github.com/kart-io/ragway/pkg/options/generation"
	lexicalopts "github.com/kart-io/ragway/pkg/options/lexical"
	llmopts "github.com/kart-io/ragway/pkg/options/llm"
	logopts "github.com/kart-io/ragway/pkg/options/logger"
	milvusopts "github.com/kart-io/ragway/pkg/options/milvus"
	retrievalopts "github.com/kart-io/ragway/pkg/options/retrieval"
	httpopts "github.com/kart-io/ragway/pkg/options/server/http"
	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

// Name is the name of the application.
const Name = "ragway-gateway"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions       *httpopts.Options
	LogOptions        *logopts.Options
	MilvusOptions     *milvusopts.Options
	CacheOptions      *cacheopts.Options
	LexicalOptions    *lexicalopts.Options
	RetrievalOptions  *retrievalopts.Options
	ClassifierOptions *classifieropts.Options
	WorkersOptions    *workersopts.Options
	GenerationOptions *generationopts.Options
	EmbeddingOptions  *llmopts.ProviderOptions
	RerankOptions     *llmopts.ProviderOptions
	ShutdownTimeout   time.Duration
}

// Server represents the gateway server.
type Server struct {
	httpServer      *http.Server
	monitor         *worker.Monitor
	shutdownTimeout time.Duration
	closers         []func()
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	// 1. 初始化日志
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting gateway service...")

	var closers []func()

	// 2. 初始化协程池（健康探测等后台任务）
	if err := pool.InitGlobal(); err != nil {
		return nil, fmt.Errorf("failed to initialize worker pools: %w", err)
	}
	closers = append(closers, func() { _ = pool.CloseGlobalTimeout(5 * time.Second) })

	// 3. 初始化语义索引
	milvusClient, err := milvus.New(cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	closers = append(closers, func() { _ = milvusClient.Close(context.Background()) })

	vectorIndex := store.NewMilvusIndex(milvusClient)
	if err := vectorIndex.EnsureCollection(ctx, &store.CollectionConfig{
		Name:        cfg.RetrievalOptions.Collection,
		Description: "ragway document chunks",
		Dimension:   cfg.RetrievalOptions.EmbeddingDim,
	}); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}
	logger.Info("Vector index initialized")

	// 4. 初始化关键词索引
	lexicalIndex, err := store.NewBleveIndex(cfg.LexicalOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lexical index: %w", err)
	}
	closers = append(closers, func() { _ = lexicalIndex.Close() })
	logger.Info("Lexical index initialized")

	// 5. 初始化分层缓存
	tiered, err := cfg.newTieredCache(ctx, &closers)
	if err != nil {
		return nil, err
	}

	// 6. 初始化 Embedding 供应商（带重试与熔断）
	embedProvider, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	resilientEmbed := resilience.NewResilientEmbeddingProvider(embedProvider, nil, nil)
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
	)

	// 7. 初始化节点注册表、均衡器与健康监控
	registry, err := worker.NewRegistry(cfg.WorkersOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker registry: %w", err)
	}
	balancer := worker.NewBalancer(registry, nil)
	monitor := worker.NewMonitor(registry, worker.NewHTTPProber(cfg.WorkersOptions.ProbeTimeout), cfg.WorkersOptions)
	logger.Infow("Worker registry initialized", "workers", registry.Len())

	// 8. 初始化 Biz 层
	classifier := biz.NewClassifier(cfg.ClassifierOptions)
	decomposer := biz.NewDecomposer(cfg.ClassifierOptions, classifier)

	var reranker store.Reranker
	if cfg.RetrievalOptions.EnableRerank {
		rerankProvider, err := llm.NewChatProvider(cfg.RerankOptions.Provider, cfg.RerankOptions.ToConfigMap())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rerank provider: %w", err)
		}
		reranker = biz.NewLLMReranker(rerankProvider)
	}
	retriever := biz.NewHybridRetriever(vectorIndex, lexicalIndex, reranker, resilientEmbed, tiered, cfg.RetrievalOptions)
	generator := biz.NewGenerator(&biz.GeneratorConfig{
		SystemPrompt: cfg.GenerationOptions.SystemPrompt,
		Timeout:      cfg.GenerationOptions.Timeout,
	}, nil)
	service := biz.NewService(classifier, decomposer, retriever, generator, registry, balancer, tiered, &biz.ServiceConfig{
		FanOut:      cfg.ClassifierOptions.FanOut,
		MaxAttempts: cfg.GenerationOptions.MaxAttempts,
	})
	logger.Infow("Gateway service initialized",
		"alpha", cfg.RetrievalOptions.Alpha,
		"top_k", cfg.RetrievalOptions.TopK,
		"fan_out", cfg.ClassifierOptions.FanOut,
		"cache.enabled", cfg.CacheOptions.Enabled,
	)

	// 9. 初始化 HTTP 层
	gatewayHandler := handler.NewGatewayHandler(service, registry, tiered, cfg.GenerationOptions.RequestTimeout)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	router.Register(engine, gatewayHandler)

	httpServer := &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
		IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
	}

	logger.Info("Gateway service is ready")
	return &Server{
		httpServer:      httpServer,
		monitor:         monitor,
		shutdownTimeout: cfg.ShutdownTimeout,
		closers:         closers,
	}, nil
}

// newTieredCache 构建分层缓存。Redis 不可达时仍然启用,
// 运行期故障按未命中处理。
func (cfg *Config) newTieredCache(ctx context.Context, closers *[]func()) (*gwcache.TieredCache, error) {
	if !cfg.CacheOptions.Enabled {
		logger.Info("Cache is disabled")
		return gwcache.NewTieredCache(nil, cfg.CacheOptions), nil
	}

	redisOpts := cfg.CacheOptions.Redis
	client, err := redisclient.NewLazy(redisOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	*closers = append(*closers, func() { _ = client.Close() })

	if err := client.Ping(ctx); err != nil {
		logger.Warnw("redis unreachable at startup, cache will serve misses until it recovers",
			"addr", redisOpts.Addr(),
			"error", err.Error(),
		)
	} else {
		logger.Infow("Redis cache initialized", "addr", redisOpts.Addr())
	}
	return gwcache.NewTieredCache(gwcache.NewRedisBackend(client.Client()), cfg.CacheOptions), nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			s.closers[i]()
		}
	}()

	s.monitor.Start(ctx)
	defer s.monitor.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gateway service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// requestLogger 记录每个请求的方法、路径、状态码与耗时,
// 并为缺少 X-Request-ID 的请求生成一个。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		logger.Infow("http request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"client", c.ClientIP(),
		)
	}
}
