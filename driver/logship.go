package main

import (
	"errors"

	"github.com/spf13/cobra"

	"go_trial/littlelemon/utils"
)

var logshipCmd = &cobra.Command{
	Use:   "logship",
	Short: "Consume access logs from Kafka and bulk index them into Elasticsearch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if cfg.Kafka.LogTopic == "" {
			return errors.New("kafka.log_topic is not configured")
		}

		shipper, err := utils.NewLogShipper(utils.ShipperConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.LogTopic,
			GroupID:     cfg.Kafka.GroupID,
			ESAddresses: cfg.Elasticsearch.Addresses,
			Index:       cfg.Elasticsearch.Index,
		}, log)
		if err != nil {
			return err
		}
		defer shipper.Close()
		return shipper.Run(cmd.Context())
	},
}
