// Command orchestratord wires the Manager/Planner/Programmer/Reviewer graphs
// to a durable engine (Temporal when TEMPORAL_HOST_PORT is set, otherwise an
// in-memory engine for local development) along with the model fallback
// chain, sandbox coordinator, and GitHub source-control client every graph's
// deps struct needs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	dockerclient "github.com/docker/docker/client"
	"github.com/google/go-github/v57/github"
	"goa.design/clue/log"

	"github.com/swe-orchestrator/core/config"
	"github.com/swe-orchestrator/core/graphruntime"
	"github.com/swe-orchestrator/core/llm/anthropic"
	"github.com/swe-orchestrator/core/llm/bedrock"
	"github.com/swe-orchestrator/core/llm/openai"
	"github.com/swe-orchestrator/core/orchestrator"
	"github.com/swe-orchestrator/core/runtime/agent/engine"
	"github.com/swe-orchestrator/core/runtime/agent/engine/inmem"
	"github.com/swe-orchestrator/core/runtime/agent/engine/temporal"
	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/runtime/agent/telemetry"
	"github.com/swe-orchestrator/core/sandbox"
	"github.com/swe-orchestrator/core/sandbox/dockerprovider"
	"github.com/swe-orchestrator/core/sandbox/grpcprovider"
	sandboxpb "github.com/swe-orchestrator/core/sandbox/grpcprovider/pb"
	"github.com/swe-orchestrator/core/toolloop"
	"go.temporal.io/sdk/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, err)
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		ctx = log.Context(ctx, log.WithDebug())
	}
	log.Print(ctx, log.KV{K: "sandbox-provider", V: cfg.SandboxProviderAddr}, log.KV{K: "local-mode", V: cfg.LocalMode})

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}

	router, err := buildModelRouter(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}

	sourceControl := orchestrator.NewGitHubSourceControl(newGitHubClient(cfg))

	sandboxCoord, err := buildSandboxCoordinator(cfg, sourceControl)
	if err != nil {
		log.Fatal(ctx, err)
	}

	toolRegistry, err := toolloop.NewDefaultRegistry(true)
	if err != nil {
		log.Fatal(ctx, err)
	}
	toolConfig := toolloop.Config{
		Backend:     toolloop.BackendSandbox,
		Coordinator: sandboxCoord,
	}

	reviewerRuntime := graphruntime.NewRuntime[orchestrator.ReviewState](eng, graphruntime.NewInMemoryThreadStore[orchestrator.ReviewState](), "reviewer")
	reviewerGraph, err := orchestrator.NewReviewerGraph(orchestrator.ReviewerDeps{
		SourceControl: sourceControl,
		ModelRouter:   router,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	if err := reviewerRuntime.Register(ctx, reviewerGraph); err != nil {
		log.Fatal(ctx, err)
	}

	threadStore := graphruntime.NewInMemoryThreadStore[orchestrator.ThreadState]()

	programmerRuntime := graphruntime.NewRuntime[orchestrator.ThreadState](eng, threadStore, "programmer")
	programmerGraph, err := orchestrator.NewProgrammerGraph(orchestrator.ProgrammerDeps{
		SourceControl:    sourceControl,
		SandboxCoord:     sandboxCoord,
		ModelRouter:      router,
		Tools:            toolRegistry,
		ToolConfig:       toolConfig,
		ReviewerLauncher: orchestrator.NewRuntimeLauncher(reviewerRuntime, cfg.TemporalTaskQueue),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	if err := programmerRuntime.Register(ctx, programmerGraph); err != nil {
		log.Fatal(ctx, err)
	}

	plannerRuntime := graphruntime.NewRuntime[orchestrator.ThreadState](eng, threadStore, "planner")
	plannerGraph, err := orchestrator.NewPlannerGraph(orchestrator.PlannerDeps{
		SourceControl: sourceControl,
		SandboxCoord:  sandboxCoord,
		ModelRouter:   router,
		Tools:         toolRegistry,
		ToolConfig:    toolConfig,
		LocalMode:     cfg.LocalMode,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	if err := plannerRuntime.Register(ctx, plannerGraph); err != nil {
		log.Fatal(ctx, err)
	}

	managerRuntime := graphruntime.NewRuntime[orchestrator.ThreadState](eng, threadStore, "manager")
	managerGraph, err := orchestrator.NewManagerGraph(orchestrator.ManagerDeps{
		SourceControl:   sourceControl,
		Store:           threadStore,
		ModelRouter:     router,
		PlannerLauncher: orchestrator.NewRuntimeLauncher(plannerRuntime, cfg.TemporalTaskQueue),
		LocalMode:       cfg.LocalMode,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	if err := managerRuntime.Register(ctx, managerGraph); err != nil {
		log.Fatal(ctx, err)
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	log.Printf(ctx, "orchestratord ready, task queue %q", cfg.TemporalTaskQueue)
	log.Printf(ctx, "exiting (%v)", <-errc)
}

// buildEngine picks the Temporal engine when a host/port is configured,
// falling back to the in-memory engine for local development - mirroring
// the config-driven backend selection SPEC_FULL.md's ambient stack
// describes for every other external dependency.
func buildEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	if cfg.TemporalHostPort == "" {
		return inmem.New(), nil
	}
	return temporal.New(temporal.Options{
		ClientOptions: &client.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
		},
		WorkerOptions: temporal.WorkerOptions{TaskQueue: cfg.TemporalTaskQueue},
		Logger:        telemetry.NewClueLogger(),
	})
}

// buildModelRouter assembles the provider clients named in the model fallback
// chain into a toolloop.FallbackRouter, skipping any provider whose
// credentials are not present in the environment.
func buildModelRouter(ctx context.Context, cfg *config.Config) (*toolloop.FallbackRouter, error) {
	clients := map[string]model.Client{}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c, err := anthropic.NewFromAPIKey(key, os.Getenv("ANTHROPIC_DEFAULT_MODEL"))
		if err != nil {
			return nil, fmt.Errorf("orchestratord: build anthropic client: %w", err)
		}
		clients["anthropic"] = c
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c, err := openai.NewFromAPIKey(key, os.Getenv("OPENAI_DEFAULT_MODEL"))
		if err != nil {
			return nil, fmt.Errorf("orchestratord: build openai client: %w", err)
		}
		clients["openai"] = c
	}
	if os.Getenv("AWS_REGION") != "" || os.Getenv("AWS_PROFILE") != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("orchestratord: load aws config: %w", err)
		}
		c, err := bedrock.New(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			DefaultModel: os.Getenv("BEDROCK_DEFAULT_MODEL"),
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("orchestratord: build bedrock client: %w", err)
		}
		clients["bedrock"] = c
	}

	chain := cfg.ModelFallbackChain
	if len(chain) == 0 {
		for name := range clients {
			chain = append(chain, name)
		}
	}
	primary := map[toolloop.TaskClass]string{}
	fallbacks := map[toolloop.TaskClass][]string{}
	if len(chain) > 0 {
		for _, class := range []toolloop.TaskClass{
			toolloop.TaskClassRouter,
			toolloop.TaskClassSummarizer,
			toolloop.TaskClassPlanner,
			toolloop.TaskClassProgrammer,
		} {
			primary[class] = chain[0]
			if len(chain) > 1 {
				fallbacks[class] = chain[1:]
			}
		}
	}
	return toolloop.NewFallbackRouter(clients, primary, fallbacks), nil
}

// buildSandboxCoordinator wraps a sandbox.Provider with the Git helper used
// to commit, push, and open draft pull requests from a sandbox checkout.
// When SANDBOX_PROVIDER_ADDR is set it dials the remote sandbox daemon used
// in production; otherwise (LOCAL_MODE development, no fleet to dial) it
// falls back to a local Docker daemon so orchestratord still has somewhere
// to run sandboxes.
func buildSandboxCoordinator(cfg *config.Config, sourceControl *orchestrator.GitHubSourceControl) (*sandbox.Coordinator, error) {
	provider, err := buildSandboxProvider(cfg)
	if err != nil {
		return nil, err
	}
	git := sandbox.NewGit(cfg.AppName, "github.com", sourceControl)
	return sandbox.NewCoordinator(provider, git, sandbox.Config{
		LocalMode:           cfg.LocalMode,
		DefaultCreateParams: sandbox.CreateParams{SnapshotName: cfg.SandboxSnapshotName},
	}), nil
}

func buildSandboxProvider(cfg *config.Config) (sandbox.Provider, error) {
	if cfg.SandboxProviderAddr != "" {
		conn, err := grpc.NewClient(cfg.SandboxProviderAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("orchestratord: dial sandbox provider: %w", err)
		}
		return grpcprovider.New(sandboxpb.NewSandboxDaemonClient(conn)), nil
	}
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("orchestratord: build docker client: %w", err)
	}
	return dockerprovider.New(cli, cfg.SandboxSnapshotName), nil
}

// newGitHubClient builds a go-github client authenticated with a static
// bearer token, matching the "optional bearer-token list" configuration
// spec.md's required-configuration section describes. A real deployment
// mints a short-lived GitHub App installation token upstream (in the
// webhook handler) and passes it through GITHUB_TOKEN; orchestratord itself
// never mints App JWTs.
func newGitHubClient(cfg *config.Config) *github.Client {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return github.NewClient(nil)
	}
	return github.NewClient(&http.Client{Transport: bearerTokenTransport{token: token}})
}

type bearerTokenTransport struct {
	token string
}

func (t bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(cloned)
}
