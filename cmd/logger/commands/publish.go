package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/matt-g-everett/logger/internal/config"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
	"github.com/matt-g-everett/logger/pkg/security"
	"github.com/matt-g-everett/logger/pkg/storage"
	"github.com/matt-g-everett/logger/pkg/transport/mqtt"
	"github.com/matt-g-everett/logger/pkg/version"
	"github.com/spf13/cobra"
)

var (
	publishVersion string
	publishChannel string
	publishS3      bool
	publishList    bool
)

var publishCmd = &cobra.Command{
	Use:   "publish <image-file|s3-key>",
	Short: "Advertise a firmware image and publish it on an update channel",
	Long: `Publish a firmware image to devices:
  publish build/logger.bin --channel ota/upd     Publish a local image
  publish logger-1.2.0.bin --s3 --channel ota/x  Fetch the image from S3 first
  publish --list [prefix]                        List images in the S3 bucket`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringVar(&publishVersion, "version", "", "Version to advertise (defaults to the version file)")
	publishCmd.Flags().StringVar(&publishChannel, "channel", "", "Update channel topic")
	publishCmd.Flags().BoolVar(&publishS3, "s3", false, "Treat the argument as an S3 key")
	publishCmd.Flags().BoolVar(&publishList, "list", false, "List images in the S3 bucket")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if publishList {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		return listImages(ctx, cfg, prefix)
	}

	if len(args) != 1 {
		return fmt.Errorf("an image file or S3 key is required")
	}
	if err := security.ValidateTopic(publishChannel); err != nil {
		return errors.Wrap(err, "invalid --channel")
	}

	ver := publishVersion
	if ver == "" {
		if ver, err = version.ReadFile(cfg.VersionFile); err != nil {
			return errors.Wrap(err, "no --version given")
		}
	}

	img, err := loadImage(ctx, cfg, args[0])
	if err != nil {
		return err
	}

	validator := security.NewValidator(cfg.PartitionSize)
	if err := validator.ValidateImageSize(img.Size); err != nil {
		return errors.Wrap(err, "image rejected")
	}

	image, err := os.ReadFile(img.LocalPath)
	if err != nil {
		return errors.Wrap(err, "failed to read image")
	}

	client := mqtt.NewClient(mqtt.Options{
		BrokerURL: cfg.BrokerURL,
		ClientID:  cfg.ClientID + "-publisher",
		Username:  cfg.Username,
		Password:  cfg.Password,
	}, func(ota.Message) {})
	if err := client.Connect(ctx); err != nil {
		return errors.Wrap(err, "MQTT connect failed")
	}
	defer client.Close()

	adv := ota.Advertisement{
		SoftwareType: cfg.Software,
		Version:      ver,
		Channel:      publishChannel,
		Checksum:     img.Checksum,
	}

	publisher := mqtt.NewPublisher(client, cfg.AdvertiseTopic, cfg.Settle)
	if err := publisher.Release(ctx, adv, image); err != nil {
		return err
	}

	slog.Info("publish_complete", "advertisement", adv.String(), "bytes", img.Size)
	fmt.Printf("Published %s %s (%d bytes, crc32 %08x) on %s\n",
		adv.SoftwareType, adv.Version, img.Size, adv.Checksum, adv.Channel)
	return nil
}

func loadImage(ctx context.Context, cfg *config.Config, arg string) (*storage.Image, error) {
	if !publishS3 {
		img, err := storage.Checksum(arg)
		if err != nil {
			return nil, errors.Wrap(err, "image checksum failed")
		}
		return img, nil
	}

	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3-bucket is required with --s3")
	}
	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return nil, errors.Wrap(err, "S3 client failed")
	}

	localPath := filepath.Join(os.TempDir(), filepath.Base(arg))
	img, err := client.Fetch(ctx, arg, localPath)
	if err != nil {
		return nil, errors.Wrap(err, "image fetch failed")
	}
	return img, nil
}

func listImages(ctx context.Context, cfg *config.Config, prefix string) error {
	if cfg.S3Bucket == "" {
		return fmt.Errorf("s3-bucket is required with --list")
	}
	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	keys, err := client.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No images found")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
