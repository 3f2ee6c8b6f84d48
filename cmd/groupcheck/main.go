// Command groupcheck runs the communicator check suite across a group. Start
// it once per rank (see grouprun) or in-process with -loopback N.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/danmuck/groupcomm/internal/checks"
	"github.com/danmuck/groupcomm/internal/logging"
	"github.com/danmuck/groupcomm/internal/observability"
	"github.com/danmuck/groupcomm/internal/protocol/session"
	"github.com/danmuck/groupcomm/mpi"
	"github.com/danmuck/groupcomm/mpi/runtime"
	"github.com/danmuck/groupcomm/mpi/runtime/local"
	"github.com/danmuck/groupcomm/mpi/runtime/tcp"
	"github.com/rs/zerolog/log"
)

type options struct {
	loopback int
	local    int
	run      string
	list     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	logging.ConfigureRuntime()

	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "groupcheck: %v\n", err)
		return 2
	}
	suite, err := selectChecks(checks.Suite(), opts.run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "groupcheck: %v\n", err)
		return 2
	}
	if opts.list {
		for _, c := range suite {
			fmt.Fprintln(stdout, c.Name)
		}
		return 0
	}

	switch {
	case opts.loopback > 0:
		observability.InitLogger("groupcheck", -1)
		cfgs, err := tcp.LoopbackConfigs("groupcheck", opts.loopback, session.DefaultConfig())
		if err != nil {
			log.Error().Err(err).Msg("loopback listeners")
			return 1
		}
		err = tcp.RunLoopback(cfgs, func(rt runtime.Runtime) error {
			return runOn(rt, suite)
		})
		return report(err)
	case opts.local > 0:
		observability.InitLogger("groupcheck", -1)
		return report(local.Run(opts.local, func(rt runtime.Runtime) error {
			return runOn(rt, suite)
		}))
	}

	env, err := mpi.Init(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "groupcheck: %v\n", err)
		return 1
	}
	world, err := mpi.World()
	if err != nil {
		fmt.Fprintf(os.Stderr, "groupcheck: %v\n", err)
		return 1
	}
	observability.InitLogger("groupcheck", world.Rank())
	err = runSuite(world, suite)
	if cerr := world.Close(); err == nil {
		err = cerr
	}
	if ferr := env.Finalize(); err == nil {
		err = ferr
	}
	return report(err)
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("groupcheck", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&opts.loopback, "loopback", 0, "run N ranks over a loopback tcp mesh in this process")
	fs.IntVar(&opts.local, "local", 0, "run N goroutine ranks in this process")
	fs.StringVar(&opts.run, "run", "", "only run checks matching this regexp")
	fs.BoolVar(&opts.list, "list", false, "list check names and exit")
	if err := fs.Parse(withoutGroupFlags(args)); err != nil {
		return options{}, err
	}
	if opts.loopback > 0 && opts.local > 0 {
		return options{}, errors.New("-loopback and -local are exclusive")
	}
	return opts, nil
}

// withoutGroupFlags drops the -group-* flags the runtime reads itself.
func withoutGroupFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name := strings.TrimLeft(args[i], "-")
		if !strings.HasPrefix(args[i], "-") || !strings.HasPrefix(name, "group-") {
			out = append(out, args[i])
			continue
		}
		if !strings.Contains(name, "=") && i+1 < len(args) {
			i++
		}
	}
	return out
}

func selectChecks(all []checks.Check, pattern string) ([]checks.Check, error) {
	if pattern == "" {
		return all, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("-run: %w", err)
	}
	var out []checks.Check
	for _, c := range all {
		if re.MatchString(c.Name) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("-run %q matches no checks", pattern)
	}
	return out, nil
}

func runOn(rt runtime.Runtime, suite []checks.Check) error {
	env, err := mpi.Init(nil, mpi.WithRuntime(rt))
	if err != nil {
		return err
	}
	c, err := mpi.NewComm(env)
	if err != nil {
		return err
	}
	err = runSuite(c, suite)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	if ferr := env.Finalize(); err == nil {
		err = ferr
	}
	return err
}

// runSuite runs every check with a barrier after each, so a check never
// sees traffic from the one before it.
func runSuite(c *mpi.Comm, suite []checks.Check) error {
	for _, check := range suite {
		start := time.Now()
		if err := check.Run(c); err != nil {
			log.Error().Int("rank", c.Rank()).Str("check", check.Name).Err(err).Msg("check failed")
			return fmt.Errorf("%s: %w", check.Name, err)
		}
		if err := c.Barrier(); err != nil {
			return fmt.Errorf("%s: barrier: %w", check.Name, err)
		}
		if c.IsMaster() {
			log.Info().Str("check", check.Name).Int("size", c.Size()).Dur("elapsed", time.Since(start)).Msg("check passed")
		}
	}
	return nil
}

func report(err error) int {
	if err != nil {
		var me *mpi.Error
		if errors.As(err, &me) {
			log.Error().Err(err).Int("code", me.Value()).Msg("groupcheck failed")
			return 1
		}
		log.Error().Err(err).Msg("groupcheck failed")
		return 1
	}
	log.Info().Msg("groupcheck passed")
	return 0
}
