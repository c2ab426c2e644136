//go:build linux

package cmds

import (
	"debug/elf"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/pstack/pkg/config"
	"github.com/go-delve/pstack/pkg/logflags"
	"github.com/go-delve/pstack/pkg/proc/native"
	"github.com/go-delve/pstack/pkg/symbols"
	"github.com/go-delve/pstack/pkg/trace"
	"github.com/go-delve/pstack/pkg/unwind"
	"github.com/go-delve/pstack/pkg/unwind/remote"
	"github.com/go-delve/pstack/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath is the configuration file to use instead of the default one.
	configPath string

	// verbose makes the version command print build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const pstackCommandLongDesc = `pstack prints the call stack of every thread of a running process.

Threads are paused one at a time with ptrace, so the traces of different
threads are not taken at the same instant. Traces are written to standard
error.

Options not given on the command line are read from the configuration file,
$XDG_CONFIG_HOME/pstack/config.yml or ~/.pstack/config.yml.`

// UsageError is returned for malformed command lines.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// New returns an initialized command tree.
func New() *cobra.Command {
	rootCommand = &cobra.Command{
		Use:           "pstack [flags] pid",
		Short:         "Prints the stack traces of the threads of a running process.",
		Long:          pstackCommandLongDesc,
		Args:          pidArg,
		RunE:          pstackCmd,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCommand.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (ptrace, unwind, symbols, trace).")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file to use instead of the default one.")

	flags := rootCommand.Flags()
	flags.Int("max-frames", config.MaxFrames, "Maximum number of frames printed per thread.")
	flags.Int("proc-name-size", config.DefaultProcNameSize, "Size of the buffer procedure names are read into.")
	flags.String("load-bias", string(config.LoadBiasFixed), `How addresses are translated before symbol lookup, "fixed" or "maps".`)
	flags.Uint64("fixed-load-bias", 0, "Load base subtracted from addresses with --load-bias=fixed, defaults to the architecture's.")
	flags.String("color", string(config.ColorAuto), `Colorize output: "auto", "always" or "never".`)
	flags.Bool("show-sp", false, "Print the stack pointer of each frame.")
	flags.Bool("demangle", true, "Demangle C++ and Rust symbol names.")
	flags.Int("module-cache-size", config.DefaultModuleCacheSize, "Number of executable images kept open while unwinding.")

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pstack\n%s\n", version.PstackVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func pidArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return &UsageError{Err: fmt.Errorf("expected exactly one process id, got %d arguments", len(args))}
	}
	_, err := parsePid(args[0])
	return err
}

func parsePid(arg string) (int, error) {
	pid, err := strconv.Atoi(arg)
	if err != nil || pid <= 0 {
		return 0, &UsageError{Err: fmt.Errorf("invalid pid: %q", arg)}
	}
	return pid, nil
}

func pstackCmd(cmd *cobra.Command, args []string) error {
	pid, err := parsePid(args[0])
	if err != nil {
		return err
	}
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd.Flags(), conf); err != nil {
		return err
	}

	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	return execute(pid, conf)
}

// applyFlags overrides the values of conf with the flags given on the
// command line.
func applyFlags(flags *pflag.FlagSet, conf *config.Config) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "max-frames":
			conf.MaxFrames, err = flags.GetInt(f.Name)
		case "proc-name-size":
			conf.ProcNameSize, err = flags.GetInt(f.Name)
		case "load-bias":
			conf.LoadBias = config.LoadBiasMode(f.Value.String())
		case "fixed-load-bias":
			var bias uint64
			bias, err = flags.GetUint64(f.Name)
			conf.FixedLoadBias = &bias
		case "color":
			conf.Color = config.ColorMode(f.Value.String())
		case "show-sp":
			conf.ShowSP, err = flags.GetBool(f.Name)
		case "demangle":
			conf.Demangle, err = flags.GetBool(f.Name)
		case "module-cache-size":
			conf.ModuleCacheSize, err = flags.GetInt(f.Name)
		}
	})
	if err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return &UsageError{Err: err}
	}
	return nil
}

func execute(pid int, conf *config.Config) error {
	arch, err := unwind.ArchFor(runtime.GOARCH)
	if err != nil {
		return err
	}

	tids, err := native.ThreadIDs(pid)
	if err != nil {
		return err
	}

	table, err := symbols.Load(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return err
	}
	if err := checkMachine(table, arch); err != nil {
		return err
	}
	normalizer, err := newNormalizer(pid, table, arch, conf)
	if err != nil {
		return err
	}

	tracer := native.NewTracer()
	defer tracer.Close()

	uctx, err := unwind.NewContext(remote.NewBackend(pid, tracer, conf.ModuleCacheSize), arch)
	if err != nil {
		return err
	}
	defer uctx.Close()

	agg := &trace.Aggregator{
		Pid:         pid,
		Tracer:      tracer,
		Context:     uctx,
		Symbols:     table,
		Normalizer:  normalizer,
		ListThreads: func(int) ([]int, error) { return tids, nil },
		Options: trace.Options{
			Walk: unwind.WalkOptions{
				MaxFrames:    conf.MaxFrames,
				ProcNameSize: conf.ProcNameSize,
			},
			Demangle: conf.Demangle,
			Color:    conf.Color,
			ShowSP:   conf.ShowSP,
		},
	}
	return agg.Run(os.Stderr)
}

// checkMachine rejects targets whose registers can not be read by this
// build of pstack.
func checkMachine(table *symbols.Table, arch *unwind.Arch) error {
	if table.Machine() == elf.EM_NONE {
		return nil
	}
	target, err := unwind.ArchForMachine(table.Machine())
	if err != nil {
		return err
	}
	if target.Name != arch.Name {
		return fmt.Errorf("target is a %s executable, pstack was built for %s", target.Name, arch.Name)
	}
	return nil
}

func newNormalizer(pid int, table *symbols.Table, arch *unwind.Arch, conf *config.Config) (symbols.Normalizer, error) {
	if conf.LoadBias == config.LoadBiasMaps {
		return symbols.MapsNormalizer(pid, table)
	}
	bias := arch.PIELoadBias
	if conf.FixedLoadBias != nil {
		bias = *conf.FixedLoadBias
	}
	return symbols.NewFixedNormalizer(table, bias), nil
}
