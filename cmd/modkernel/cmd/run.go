package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modkernel"
	"github.com/GoCodeAlone/modkernel/internal/heartbeat"
)

// ErrShutdownFailed is returned when the kernel did not shut down cleanly.
var ErrShutdownFailed = errors.New("kernel shutdown failed")

// NewRunCommand starts a kernel from a configuration file and blocks until
// SIGTERM/SIGINT or until the command context ends.
func NewRunCommand() *cobra.Command {
	var (
		configPath      string
		watch           bool
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a kernel",
		Long: `Install and start every module declared in the configuration, then
supervise them until interrupted. SIGHUP restarts all modules; with
--watch, edits to the configuration hot-reload module settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := modkernel.LoadConfig(configPath)
			if err != nil {
				return err
			}
			kctx, err := modkernel.New(cfg)
			if err != nil {
				return err
			}
			if err := kctx.RegisterModuleType(heartbeat.TypeName, heartbeat.Constructor(kctx.Logger()), heartbeat.Version); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			exitCode := make(chan int, 1)
			detach := modkernel.AttachSignalHandlers(ctx, kctx,
				modkernel.WithExitFunc(func(code int) { exitCode <- code }),
				modkernel.WithSignalShutdownTimeout(shutdownTimeout),
			)
			defer detach()

			out := cmd.OutOrStdout()
			res, err := kctx.Start(ctx)
			if err != nil {
				shutdownErr := shutdown(kctx, shutdownTimeout)
				return errors.Join(fmt.Errorf("startup failed: %w", err), shutdownErr)
			}
			fmt.Fprintf(out, "Started %d modules in %s\n", len(res.SucceededModules), res.Duration.Round(time.Millisecond))

			if watch {
				go func() {
					if err := kctx.WatchConfig(ctx, configPath, nil); err != nil {
						kctx.Logger().Error("Config watcher stopped", "error", err)
					}
				}()
			}

			select {
			case code := <-exitCode:
				if code != 0 {
					return ErrShutdownFailed
				}
			case <-ctx.Done():
				if err := shutdown(kctx, shutdownTimeout); err != nil {
					return fmt.Errorf("%w: %w", ErrShutdownFailed, err)
				}
			}
			fmt.Fprintln(out, "Kernel stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "modkernel.yaml", "Path to the kernel configuration file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Hot-reload module settings when the configuration file changes")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", modkernel.DefaultSignalShutdownTimeout, "Maximum time to wait for modules to stop")
	return cmd
}

func shutdown(kctx *modkernel.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return kctx.Shutdown(ctx)
}
