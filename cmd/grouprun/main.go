// Command grouprun starts one process per rank of a group on this host and
// wires them together through the GROUPCOMM_* environment.
//
//	grouprun -n 4 ./bin/groupcheck
//	grouprun -config launch.toml
//	grouprun -init group.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/groupcomm/internal/config"
	"github.com/danmuck/groupcomm/internal/logging"
	"github.com/danmuck/groupcomm/internal/observability"
	"github.com/danmuck/groupcomm/internal/tools"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logging.ConfigureRuntime()
	observability.InitLogger("grouprun", -1)

	fs := flag.NewFlagSet("grouprun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "launch TOML file")
	size := fs.Int("n", 0, "number of ranks")
	host := fs.String("host", "", "host every rank listens on")
	basePort := fs.Int("base-port", 0, "listen port of rank 0; rank r uses base+r")
	metricsBase := fs.Int("metrics-base-port", 0, "status server port of rank 0, 0 disables")
	groupID := fs.String("group-id", "", "group id")
	token := fs.String("token", "", "shared group token")
	groupConfig := fs.String("group-config", "", "group TOML passed to every rank")
	killDelay := fs.Duration("kill-delay", 0, "wait after SIGINT before killing a rank")
	initPath := fs.String("init", "", "write a group config template to this path and exit")
	initKind := fs.String("kind", "group", "template kind for -init: group|group-tls")
	force := fs.Bool("force", false, "overwrite an existing file with -init")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *initPath != "" {
		if err := config.WriteTemplate(*initPath, *initKind, *force); err != nil {
			log.Error().Err(err).Msg("grouprun init")
			return 1
		}
		log.Info().Str("kind", *initKind).Str("path", *initPath).Msg("wrote group config template")
		return 0
	}

	cfg := defaultLaunchConfig()
	if *configPath != "" {
		loaded, err := loadLaunchConfig(*configPath)
		if err != nil {
			log.Error().Err(err).Msg("grouprun")
			return 2
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.Size = *size
		case "host":
			cfg.Host = *host
		case "base-port":
			cfg.BasePort = *basePort
		case "metrics-base-port":
			cfg.MetricsBasePort = *metricsBase
		case "group-id":
			cfg.GroupID = *groupID
		case "token":
			cfg.Token = *token
		case "group-config":
			cfg.GroupConfig = *groupConfig
		case "kill-delay":
			cfg.KillDelay = *killDelay
		}
	})
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Program = rest[0]
		cfg.Args = rest[1:]
	}
	cfg, err := cfg.resolve()
	if err != nil {
		log.Error().Err(err).Msg("grouprun")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code, err := launch(ctx, tools.ExecRunner{KillDelay: cfg.KillDelay}, cfg, stdout, stderr)
	if err != nil {
		log.Error().Err(err).Int("exit_code", code).Msg("group failed")
	}
	return code
}

// launch runs every rank and returns the highest exit code. The first rank
// to fail cancels the others.
func launch(ctx context.Context, runner tools.ProcessRunner, cfg launchConfig, stdout, stderr io.Writer) (int, error) {
	var (
		outMu sync.Mutex
		errMu sync.Mutex
		codes = make([]int32, cfg.Size)
	)
	start := time.Now()
	log.Info().
		Int("size", cfg.Size).
		Str("program", cfg.Program).
		Strs("args", cfg.Args).
		Msg("launching group")

	eg, gctx := errgroup.WithContext(ctx)
	for r := 0; r < cfg.Size; r++ {
		prefix := fmt.Sprintf("[%d] ", r)
		p := tools.Process{
			Name:   cfg.Program,
			Args:   cfg.Args,
			Env:    cfg.rankEnv(r),
			Dir:    cfg.Dir,
			Stdout: tools.NewPrefixWriter(stdout, &outMu, prefix),
			Stderr: tools.NewPrefixWriter(stderr, &errMu, prefix),
		}
		eg.Go(func() error {
			code, err := runner.Run(gctx, p)
			codes[r] = code
			if err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	err := eg.Wait()

	worst := 0
	for r, code := range codes {
		if code != 0 {
			log.Warn().Int("rank", r).Int32("exit_code", code).Msg("rank exited")
		}
		worst = max(worst, int(code))
	}
	if err != nil && worst == 0 {
		worst = 1
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Warn().Msg("group interrupted")
	}
	log.Info().Dur("elapsed", time.Since(start)).Int("exit_code", worst).Msg("group finished")
	return worst, err
}
