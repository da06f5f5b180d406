package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matt-g-everett/logger/internal/config"
	"github.com/matt-g-everett/logger/pkg/commit"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/flash"
	"github.com/matt-g-everett/logger/pkg/journal"
	"github.com/matt-g-everett/logger/pkg/ota"
	"github.com/matt-g-everett/logger/pkg/transport/mqtt"
	"github.com/matt-g-everett/logger/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superfly/fsm"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device agent and apply advertised updates",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("version-file", "version.txt", "File holding the running firmware version")
	runCmd.Flags().Int("fragment-size", 1024, "Split inbound messages into fragments of this many bytes (0 disables)")
	runCmd.Flags().Duration("update-timeout", ota.DefaultTimeout, "Abandon a transfer this long after its advertisement")
	runCmd.Flags().Bool("reboot-system", false, "Reboot the machine instead of exiting after an update")

	viper.BindPFlag("version-file", runCmd.Flags().Lookup("version-file"))
	viper.BindPFlag("fragment-size", runCmd.Flags().Lookup("fragment-size"))
	viper.BindPFlag("update-timeout", runCmd.Flags().Lookup("update-timeout"))
	viper.BindPFlag("reboot-system", runCmd.Flags().Lookup("reboot-system"))
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.JournalPath, cfg.CommitDBPath, cfg.FlashDir); err != nil {
		return err
	}

	running, err := version.ReadFile(cfg.VersionFile)
	if err != nil {
		return errors.Wrap(err, "running version unknown")
	}

	store, err := flash.Open(cfg.FlashDir, cfg.PartitionSize)
	if err != nil {
		return errors.Wrap(err, "flash open failed")
	}

	repo, err := journal.NewRepository(cfg.JournalPath)
	if err != nil {
		return errors.Wrap(err, "journal init failed")
	}
	defer repo.Close()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.CommitDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	committer, err := commit.NewCommitter(ctx, manager, store)
	if err != nil {
		return errors.Wrap(err, "commit workflow failed")
	}

	var agent *ota.Agent
	client := mqtt.NewClient(mqtt.Options{
		BrokerURL:    cfg.BrokerURL,
		ClientID:     cfg.ClientID,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Topics:       []string{cfg.AdvertiseTopic},
		FragmentSize: cfg.FragmentSize,
	}, func(msg ota.Message) {
		if !agent.Deliver(msg) {
			slog.Warn("ota_message_dropped", "topic", msg.Topic, "offset", msg.Offset, "message_id", msg.ID)
		}
	})

	engine := ota.New(ota.Options{
		AdvertiseTopic: cfg.AdvertiseTopic,
		Software:       cfg.Software,
		Version:        running,
		Timeout:        cfg.UpdateTimeout,
		Transport:      client,
		Storage:        store,
		Committer:      committer,
		Recorder:       journal.Recorder{Repo: repo},
	})
	agent = ota.NewAgent(engine, flash.Rebooter{System: cfg.RebootSystem}, cfg.CheckInterval)

	slog.Info("agent_starting",
		"software", cfg.Software,
		"version", running,
		"running_partition", store.Running().Label,
		"boot_partition", store.Boot().Label)

	if err := client.Connect(ctx); err != nil {
		return errors.Wrap(err, "MQTT connect failed")
	}
	defer client.Close()

	reporter := ota.NewReporter(ota.ReporterOptions{
		Topic:    cfg.ReportTopic,
		Software: cfg.Software,
		Version:  running,
		Interval: cfg.ReportInterval,
		Address:  ota.LocalAddress,
	}, client, client, engine)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.Run(gctx) })
	g.Go(func() error { return reporter.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("agent_stopped")
	return nil
}
