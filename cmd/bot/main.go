package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGFittingBot/internal/admin"
	"github.com/digkill/TGFittingBot/internal/config"
	"github.com/digkill/TGFittingBot/internal/database"
	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/kie"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/payment"
	"github.com/digkill/TGFittingBot/internal/referral"
	"github.com/digkill/TGFittingBot/internal/repository"
	"github.com/digkill/TGFittingBot/internal/service"
	"github.com/digkill/TGFittingBot/internal/storage"
	"github.com/digkill/TGFittingBot/internal/telegram"
	"github.com/digkill/TGFittingBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	entryRepo := repository.NewEntryRepository(db)
	tariffRepo := repository.NewTariffRepository(db)
	promoRepo := repository.NewPromoRepository(db)

	policy := entitlement.Policy{
		FreemiumLimit:  cfg.FreemiumActionsPerMonth,
		FreemiumPeriod: cfg.FreemiumPeriod,
	}
	ledgerSvc := ledger.New(repository.NewStore(db), policy, logr, ledger.WithMaxRetries(cfg.LedgerMaxRetries))

	var (
		provider payment.Provider
		mock     *payment.Mock
	)
	if cfg.PaymentMockMode {
		mock = payment.NewMock(cfg.PaymentWebhookSecret, cfg.PublicBaseURL, logr)
		provider = mock
		logr.Warn("payment mock mode enabled")
	} else {
		provider = payment.NewYooKassa(payment.YooKassaConfig{
			ShopID:    cfg.YooKassaShopID,
			SecretKey: cfg.YooKassaSecretKey,
			ReturnURL: cfg.YooKassaReturnURL,
			BaseURL:   cfg.YooKassaBaseURL,
		})
	}
	reconciler := payment.NewReconciler(ledgerSvc, cfg.PaymentWebhookSecret, logr)

	kieClient := kie.NewClient(kie.Config{
		APIKey:  cfg.KIEAPIKey,
		BaseURL: cfg.KIEBaseURL,
		Model:   cfg.KIEModel,
		Timeout: cfg.RequestTimeout,
	}, logr)

	referrals := referral.NewService(ledgerSvc, userRepo, referralRepo, cfg.ReferralBonusCredits, logr)
	users := service.NewUserService(userRepo, referrals, policy, logr)
	tariffs := service.NewTariffService(tariffRepo, cfg.PaymentCurrency, cfg.SubscriptionDurationDays)
	payments := service.NewPaymentService(paymentRepo, tariffs, provider, logr)
	promos := service.NewPromoService(ledgerSvc, promoRepo, logr)
	generations := service.NewGenerationService(ledgerSvc, generationRepo, kieClient, referrals, cfg.GenerationCostCredits, logr)

	var (
		images   telegram.ImageStorage
		archiver service.Archiver
	)
	if cfg.S3Enabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
			ExportPrefix:  cfg.S3ExportPrefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		images, archiver = uploader, uploader
	} else {
		logr.Warn("s3 storage not configured, reference photos and export archiving disabled")
	}
	reports := service.NewReportService(paymentRepo, archiver, logr)

	if err := tariffs.SeedDefaults(ctx); err != nil {
		log.Fatalf("seed tariffs: %v", err)
	}

	sweeper := ledger.NewSweeper(userRepo, cfg.FreemiumPeriod, cfg.FreemiumSweepInterval, logr)
	go runUntilDone(ctx, logr, "freemium sweeper", sweeper.Run)

	adminServer := admin.NewServer(admin.Config{
		Addr:     cfg.AdminListenAddr,
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
	}, admin.Deps{
		Reconciler: reconciler,
		Ledger:     ledgerSvc,
		Users:      users,
		Entries:    entryRepo,
		Tariffs:    tariffs,
		Promos:     promos,
		Reports:    reports,
		Mock:       mock,
	}, logr)
	go runUntilDone(ctx, logr, "admin server", adminServer.Run)

	bot := telegram.NewBot(botAPI, telegram.Services{
		Users:      users,
		Generation: generations,
		Promos:     promos,
		Payments:   payments,
		Tariffs:    tariffs,
		Referrals:  referrals,
	}, images, logr)
	runUntilDone(ctx, logr, "bot", bot.Run)
}

func runUntilDone(ctx context.Context, logr *slog.Logger, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error(name+" stopped", "err", err)
	}
}
