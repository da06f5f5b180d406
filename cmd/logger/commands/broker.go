package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matt-g-everett/logger/internal/config"
	"github.com/matt-g-everett/logger/pkg/broker"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var brokerStrict bool

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run a local MQTT broker that logs update traffic",
	RunE:  runBroker,
}

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.Flags().String("listen", ":1883", "Address to listen on")
	brokerCmd.Flags().BoolVar(&brokerStrict, "strict", false, "Drop malformed advertisements and reports")

	viper.BindPFlag("broker-listen", brokerCmd.Flags().Lookup("listen"))
}

func runBroker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	b, err := broker.New(broker.Options{
		Listen:         cfg.BrokerListen,
		AdvertiseTopic: cfg.AdvertiseTopic,
		ReportTopic:    cfg.ReportTopic,
		Strict:         brokerStrict,
	})
	if err != nil {
		return errors.Wrap(err, "broker listen failed")
	}
	b.Start()

	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Stop(shutdown)
	return nil
}
