package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/config"
	"github.com/vkuzn/agentflow/internal/engine"
	"github.com/vkuzn/agentflow/internal/events"
	"github.com/vkuzn/agentflow/internal/jobs"
	"github.com/vkuzn/agentflow/internal/model"
	"github.com/vkuzn/agentflow/internal/ratelimit"
	"github.com/vkuzn/agentflow/internal/retry"
	"github.com/vkuzn/agentflow/internal/schedule"
	"github.com/vkuzn/agentflow/internal/storage"
)

// EchoAgent is a stand-in agent that formats its task input. Real
// deployments register agents backed by remote model calls here.
type EchoAgent struct {
	logger *zap.Logger
}

func (a *EchoAgent) Execute(ctx context.Context, input model.AgentInput) (model.AgentOutput, error) {
	a.logger.Info("Executing task",
		zap.String("task", input.TaskName))

	var b strings.Builder
	fmt.Fprintf(&b, "task %s: %s", input.TaskName, input.Description)
	for name, result := range input.Context {
		fmt.Fprintf(&b, "\n[%s] %s", name, result)
	}
	return model.AgentOutput{Raw: b.String()}, nil
}

func main() {
	runFile := flag.String("run", "run.yaml", "path to the run file")
	background := flag.Bool("background", false, "run through the background job manager")
	cronExpr := flag.String("schedule", "", "cron expression for recurring runs (with seconds)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// App-level settings, separate from the run file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("jobs.workers", 4)
	viper.SetDefault("transcript.path", "transcript.db")
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("No config file found, using defaults", zap.Error(err))
	}

	rf, err := config.Load(*runFile)
	if err != nil {
		logger.Fatal("Failed to load run file", zap.Error(err))
	}

	agents := map[string]model.Agent{
		"echo": &EchoAgent{logger: logger},
	}
	tasks, err := rf.BuildTasks(agents)
	if err != nil {
		logger.Fatal("Failed to build tasks", zap.Error(err))
	}

	cfg := engine.Config{
		Tasks:    tasks,
		Strategy: engine.Strategy(rf.Process),
		History:  rf.History,
		Logger:   logger,
	}

	if rf.Process == string(engine.StrategyHierarchical) {
		// Accept everything; real deployments plug in a reviewing agent.
		cfg.Manager = model.ManagerFunc(func(ctx context.Context, expected, produced string) (model.Verdict, error) {
			return model.Verdict{Accepted: produced != ""}, nil
		})
	}

	if rf.RateLimit.RequestsPerMinute > 0 {
		limiter, err := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rf.RateLimit.RequestsPerMinute,
			TokensPerMinute:   rf.RateLimit.TokensPerMinute,
			Burst:             rf.RateLimit.Burst,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create rate limiter", zap.Error(err))
		}
		cfg.Limiter = limiter
	}

	cfg.Retrier = retry.NewController(retry.Config{
		MaxRetries:    rf.Retry.MaxRetries,
		RetryDelay:    time.Duration(rf.Retry.RetryDelay * float64(time.Second)),
		MaxRetryDelay: time.Duration(rf.Retry.MaxRetryDelay * float64(time.Second)),
	}, logger)

	if rf.History {
		transcript, err := storage.NewSQLiteTranscript(logger, viper.GetString("transcript.path"))
		if err != nil {
			logger.Fatal("Failed to open transcript storage", zap.Error(err))
		}
		defer transcript.Close()
		cfg.Transcript = transcript

		if days := viper.GetInt("transcript.retention_days"); days > 0 {
			cutoff := time.Now().AddDate(0, 0, -days)
			if err := transcript.DeleteBefore(context.Background(), cutoff); err != nil {
				logger.Warn("Failed to prune old transcripts", zap.Error(err))
			}
		}
	}

	if url := viper.GetString("nats.url"); url != "" {
		nc, err := nats.Connect(url, nats.Timeout(5*time.Second))
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to open JetStream context", zap.Error(err))
		}
		publisher, err := events.NewNATSPublisher(js, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		cfg.Publisher = publisher
	}

	process, err := engine.NewProcess(cfg)
	if err != nil {
		logger.Fatal("Invalid task graph", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if *cronExpr != "" {
		// One worker: recurring runs share the task graph and must not
		// overlap.
		manager := jobs.NewManager(jobs.Config{Workers: 1}, logger)
		defer manager.Shutdown(true)

		runner := schedule.NewRunner(manager, logger)
		entry, err := runner.Add(rf.Process, *cronExpr, func(ctx context.Context) (interface{}, error) {
			// A process is good for one run; rebuild it with fresh
			// tasks on every tick.
			tasks, err := rf.BuildTasks(agents)
			if err != nil {
				return nil, err
			}
			runCfg := cfg
			runCfg.Tasks = tasks
			p, err := engine.NewProcess(runCfg)
			if err != nil {
				return nil, err
			}
			return p.Run(ctx)
		})
		if err != nil {
			logger.Fatal("Failed to register schedule", zap.Error(err))
		}
		logger.Info("Schedule registered",
			zap.String("id", entry.ID),
			zap.String("expression", *cronExpr))

		runner.Start()
		<-ctx.Done()
		runner.Stop()
		return
	}

	var result *engine.Result
	if *background {
		manager := jobs.NewManager(jobs.Config{
			Workers: viper.GetInt("jobs.workers"),
		}, logger)
		defer manager.Shutdown(true)

		jobID, err := manager.StartJob(func(ctx context.Context) (interface{}, error) {
			return process.Run(ctx)
		})
		if err != nil {
			logger.Fatal("Failed to submit run", zap.Error(err))
		}
		logger.Info("Run submitted", zap.String("job_id", jobID))

		raw, err := manager.GetResult(jobID, 0)
		if err != nil {
			logger.Fatal("Run failed", zap.Error(err))
		}
		result = raw.(*engine.Result)
	} else {
		result, err = process.Run(ctx)
		if err != nil {
			logger.Error("Run failed", zap.Error(err))
		}
	}

	logger.Info("Run finished",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)))
	for name, output := range result.Results {
		logger.Info("Task result",
			zap.String("task", name),
			zap.String("output", output))
	}
	if result.StoppedAt != "" {
		logger.Warn("Run stopped",
			zap.String("task", result.StoppedAt),
			zap.String("error", result.Error))
	}
}
