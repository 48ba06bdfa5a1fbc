// updateengined is the daemon entry point: it loads configuration, wires
// the Update Service State Machine to a D-Bus Manager object, and runs the
// reactor loop until signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/coreos/update-engine/internal/activate"
	"github.com/coreos/update-engine/internal/busadapter"
	"github.com/coreos/update-engine/internal/config"
	"github.com/coreos/update-engine/internal/download"
	"github.com/coreos/update-engine/internal/esp"
	"github.com/coreos/update-engine/internal/execwrap"
	"github.com/coreos/update-engine/internal/fetcher"
	"github.com/coreos/update-engine/internal/gpttool"
	"github.com/coreos/update-engine/internal/iosink"
	"github.com/coreos/update-engine/internal/plan"
	"github.com/coreos/update-engine/internal/reactor"
	"github.com/coreos/update-engine/internal/remediation"
	"github.com/coreos/update-engine/internal/service"
)

func main() {
	os.Exit(run(os.Args, os.Environ()))
}

func run(args, env []string) int {
	flags := flag.NewFlagSet("updateengined", flag.ContinueOnError)
	flagConfig := flags.StringP("config", "c", "", "use specified config file")
	flagCwd := flags.StringP("cwd", "C", "", "run as if started in dir")

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	workDir := *flagCwd
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: getwd:", err)

			return 1
		}
	}

	cfg, err := config.Load(workDir, *flagConfig, env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Error().Err(err).Msg("connect to system bus")

		return 1
	}
	defer conn.Close()

	rx := reactor.NewReal()
	defer rx.Stop()

	svc := buildService(rx, cfg, log)

	auth := busadapter.NewUnixUserAuthorizer(conn, 0, lookupCoreUID())
	manager := busadapter.NewManager(svc, auth, log)

	if err := busadapter.Export(conn, manager); err != nil {
		log.Error().Err(err).Msg("export manager")

		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("updateengined started")

	<-sigCh

	log.Info().Msg("shutting down")
	svc.StopUpdate()

	return 0
}

func lookupCoreUID() uint32 {
	// "core" is the conventional non-root user on immutable-root CoreOS-like
	// distributions. Its UID is not looked up: the conventional 1000 is
	// returned as is.
	const fallbackCoreUID = 1000

	return fallbackCoreUID
}

// buildService wires a Service with a real Checker stub (the Omaha-style
// update-check client is out of scope) and a real Download Stage +
// Slot Activator.
func buildService(rx reactor.Reactor, cfg config.Config, log zerolog.Logger) *service.Service {
	execer := execwrap.NewReal()
	gptTool := gpttool.New(execer, cfg.GPTToolPath, cfg.GPTToolLoader, cfg.GPTToolLibPath)

	deps := activate.NewDeps(activate.Deps{
		GPTReader:    esp.NewPartLabelReader(),
		ESPLocator:   esp.NewDiskfsLocator(),
		ESPMounter:   esp.NewRealMounter(),
		KernelStager: activate.NewAtomicKernelStager(),
		VendorHook:   activate.NewExecVendorHook(cfg.VendorHookPath, execer),
		Legacy:       activate.NewCmdlineLegacyWriter(),
		GPTTool:      gptTool,
		Remediations: remediation.NewRegistry(),
		Log:          log,
	})

	activator := activate.ServiceAdapter{
		Deps:          deps,
		ESPCandidates: cfg.ESPCandidates,
		ESPMountPoint: cfg.ESPMountPoint,
	}

	svc := service.New(rx, noopChecker{}, activator, log)

	stage := download.NewStage(func(p plan.Plan) fetcher.Fetcher {
		f := fetcher.NewHTTP(p.URL, nil, log)
		f.SetChunkMax(cfg.ChunkMax)

		return f
	}, func(p plan.Plan) iosink.Sink {
		return iosink.NewDeviceSink(iosink.NewReal(), p.InstallPath)
	}, svc, rx, log)

	svc.SetDownloadStage(stage)

	return svc
}

// noopChecker never finds an update; a real deployment wires the external
// Omaha-style collaborator here, modeled only by its output contract.
type noopChecker struct{}

func (noopChecker) Check(context.Context) (plan.Plan, bool, error) {
	return plan.Plan{}, false, nil
}
