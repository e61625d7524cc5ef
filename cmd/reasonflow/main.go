// =============================================================================
// ReasonFlow 主入口
// =============================================================================
// 命令行推理与 HTTP 服务入口
//
// 使用方法:
//
//	reasonflow reason --task-type simple "What is 6 x 7?"    # 单次推理
//	reasonflow serve --config reasonflow.yaml                  # 启动 HTTP 服务
//	reasonflow config --config reasonflow.yaml                 # 校验并打印生效配置
//	reasonflow health --addr http://localhost:8080             # 就绪检查
//	reasonflow version                                         # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/reasonflow/config"
	"github.com/BaSui01/reasonflow/quick"
	"github.com/BaSui01/reasonflow/retrieval"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const tracerName = "github.com/BaSui01/reasonflow/cmd/reasonflow"

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 分发子命令并返回进程退出码
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "reason":
		err = runReason(ctx, args[1:], stdout)
	case "serve":
		err = runServe(ctx, args[1:])
	case "config":
		err = runConfig(args[1:], stdout)
	case "health":
		err = runHealthCheck(ctx, args[1:], stdout)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// multiFlag 可重复的字符串参数
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

// =============================================================================
// 🧠 reason 命令
// =============================================================================

func runReason(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("reason", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	taskType := fs.String("task-type", "", "Task type (simple, safety_critical, planning, complex, knowledge_intensive, general)")
	complexity := fs.String("complexity", "", "Complexity hint (low, high, ...)")
	agentID := fs.String("agent", "", "Agent id for strategy overrides")
	contextText := fs.String("context", "", "Background context")
	contextFile := fs.String("context-file", "", "Read background context from file")
	format := fs.String("format", "text", "Output format: text or json")
	var docs multiFlag
	fs.Var(&docs, "docs", "Glob of documents to index for retrieval (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("reason: a query is required")
	}
	if *contextFile != "" {
		b, err := os.ReadFile(*contextFile)
		if err != nil {
			return fmt.Errorf("read context file: %w", err)
		}
		*contextText = string(b)
	}

	engine, err := newEngine(*configPath, docs)
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	result, err := engine.Reason(ctx, quick.Task{
		Query:      query,
		Context:    *contextText,
		TaskType:   *taskType,
		Complexity: *complexity,
		AgentID:    *agentID,
	}, nil)
	if err != nil {
		return err
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		fmt.Fprintf(stdout, "%s\n\nstrategy: %s  confidence: %.2f  tokens: %d\n",
			result.Answer, result.StrategyName, result.Confidence, result.TokenCount)
		for i, step := range result.Steps {
			fmt.Fprintf(stdout, "  %d. %s\n", i+1, step)
		}
		return nil
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	var docs multiFlag
	fs.Var(&docs, "docs", "Glob of documents to index for retrieval (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, err := newEngine(*configPath, docs)
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	logger := engine.Logger()
	logger.Info("Starting ReasonFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)
	if !engine.HasModel() {
		logger.Warn("llm.base_url is not set; /v1/reason will answer 503")
	}

	srv := NewServer(engine, engine.Tracer(tracerName))
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("ReasonFlow stopped")
	return nil
}

// newEngine 加载配置与文档并创建引擎
func newEngine(configPath string, docGlobs []string) (*quick.Engine, error) {
	docs, err := loadDocuments(docGlobs)
	if err != nil {
		return nil, err
	}
	opts := []quick.Option{quick.WithConfigPath(configPath), quick.WithServiceVersion(Version)}
	if len(docs) > 0 {
		opts = append(opts, quick.WithDocuments(docs...))
	}
	return quick.New(opts...)
}

// loadDocuments 读取 glob 匹配的文件，每个文件为一个文档，ID 为文件路径
func loadDocuments(globs []string) ([]retrieval.Document, error) {
	var docs []retrieval.Document
	seen := make(map[string]struct{})
	for _, pattern := range globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad --docs pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("--docs %q matched no files", pattern)
		}
		for _, path := range matches {
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read document: %w", err)
			}
			docs = append(docs, retrieval.Document{ID: path, Content: string(b)})
		}
	}
	return docs, nil
}

// =============================================================================
// ⚙️ config 命令
// =============================================================================

func runConfig(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(redact(*cfg)); err != nil {
		return err
	}
	return enc.Close()
}

// redact 隐藏配置中的凭据
func redact(cfg config.Config) config.Config {
	const mask = "***"
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = mask
	}
	if cfg.Retrieval.Cache.Password != "" {
		cfg.Retrieval.Cache.Password = mask
	}
	if cfg.Server.JWT.Secret != "" {
		cfg.Server.JWT.Secret = mask
	}
	if len(cfg.Server.APIKeys) > 0 {
		keys := make([]string, len(cfg.Server.APIKeys))
		for i := range keys {
			keys[i] = mask
		}
		cfg.Server.APIKeys = keys
	}
	return cfg
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/ready", "Probe path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+*path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ReasonFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `ReasonFlow - reasoning strategies for LLM agents

Usage:
  reasonflow <command> [options]

Commands:
  reason    Route one query to a strategy and print the result
  serve     Start the HTTP API
  config    Validate configuration and print the effective values
  health    Probe a running server
  version   Show version information
  help      Show this help message

Options for 'reason':
  --config <path>        Configuration file (YAML); REASONFLOW_* env overrides it
  --task-type <type>     simple | safety_critical | planning | complex | knowledge_intensive | general
  --complexity <hint>    low | high | ...
  --agent <id>           Agent id for strategy overrides
  --context <text>       Background context (or --context-file <path>)
  --docs <glob>          Index matching files for retrieval (repeatable)
  --format text|json

Options for 'serve':
  --config <path>        Configuration file (YAML)
  --docs <glob>          Index matching files for retrieval (repeatable)

Examples:
  reasonflow reason --task-type knowledge_intensive --docs 'kb/*.md' "Where is the Louvre?"
  reasonflow serve --config /etc/reasonflow/config.yaml
  reasonflow health --addr http://localhost:8080
  reasonflow version`)
}
