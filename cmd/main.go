package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/config"
	"github.com/bikera/location-consensus-validator/pkgs/clustering"
	"github.com/bikera/location-consensus-validator/pkgs/consensus"
	"github.com/bikera/location-consensus-validator/pkgs/crypto"
	"github.com/bikera/location-consensus-validator/pkgs/events"
	"github.com/bikera/location-consensus-validator/pkgs/ledger"
	"github.com/bikera/location-consensus-validator/pkgs/metrics"
	redislib "github.com/bikera/location-consensus-validator/pkgs/redis"
	"github.com/bikera/location-consensus-validator/pkgs/rewards"
	"github.com/bikera/location-consensus-validator/pkgs/service"
	"github.com/bikera/location-consensus-validator/pkgs/validator"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatal(err)
	}
	settings := config.SettingsObj

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redislib.NewRedisClient()
	defer redisClient.Close()

	keyBuilder := redislib.NewKeyBuilder(settings.Network)
	publisher := events.NewPublisher(redisClient, keyBuilder, settings.ValidatorID, settings.EnableEventPublishing)

	clusterer := clustering.NewClusterer(settings.GridCellSize, settings.MaxWinnersPerBlock)
	verifier := crypto.NewBatchVerifier(settings.CollectorAccounts, settings.SkipSignatureVerification)
	intervalValidator := validator.NewIntervalValidator(clusterer, verifier, settings.IntervalDuration)

	blockLedger := ledger.New(redisClient, keyBuilder, settings.EnableLedgerMirroring)

	notifier := rewards.NewNotifier(
		settings.RewardDistributorURL,
		settings.RewardDispatchTimeout,
		settings.RewardMaxRetryElapsed,
		redisClient,
		keyBuilder,
		publisher,
	)

	aggregator := consensus.NewAggregator(settings.ConsensusQuorum, blockLedger, notifier, publisher)

	if settings.EnableRewardDispatch {
		go notifier.Run(ctx, settings.RewardDispatchInterval)
		log.Info("Reward dispatcher started")
	}

	if settings.MetricsEnabled {
		go metrics.Serve(settings.MetricsPort)
	}

	if settings.EnableAPI {
		api := service.NewAPI(intervalValidator, aggregator, blockLedger, settings.APIAuthToken)
		go func() {
			if err := api.Run(settings.APIHost, settings.APIPort); err != nil {
				log.Fatalf("API server failed: %v", err)
			}
		}()
	}

	log.Infof("Location consensus validator %s running", settings.ValidatorID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")
	cancel()
}
