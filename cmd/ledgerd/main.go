package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/onemorebsmith/contribution-ledger/src/api"
	"github.com/onemorebsmith/contribution-ledger/src/cashier"
	"github.com/onemorebsmith/contribution-ledger/src/common"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/memstore"
	"github.com/onemorebsmith/contribution-ledger/src/metrics"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/onemorebsmith/contribution-ledger/src/notify"
	"github.com/onemorebsmith/contribution-ledger/src/postgres"
	"github.com/onemorebsmith/contribution-ledger/src/session"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type config struct {
	common.LedgerConfig `yaml:",inline"`
	Cashier             cashier.CashierConfig `yaml:"cashier"`
}

func main() {
	pwd, _ := os.Getwd()
	fullPath := path.Join(pwd, "config.yaml")
	log.Printf("loading config @ `%s`", fullPath)
	rawCfg, err := os.ReadFile(fullPath)
	if err != nil {
		log.Printf("config file not found: %s", err)
		os.Exit(1)
	}
	cfg := config{}
	if err := yaml.Unmarshal(rawCfg, &cfg); err != nil {
		log.Printf("failed parsing config file: %s", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "address to serve the ledger api on, default `:8080`")
	flag.StringVar(&cfg.PromPort, "prom", cfg.PromPort, `if defined will also serve prom stats on a separate port, default ""`)
	flag.StringVar(&cfg.PostgresConfig, "pg", cfg.PostgresConfig, `config string for the postgres connection`)
	flag.StringVar(&cfg.RedisConfig, "redis", cfg.RedisConfig, `address of redis for contribution notifications, empty disables`)
	flag.StringVar(&cfg.Operator, "operator", cfg.Operator, `identity allowed to withdraw custody`)
	flag.BoolVar(&cfg.Mock, "mock", cfg.Mock, `run against an in-memory store and a mock cashier`)
	flag.StringVar(&cfg.LogLevel, "log", cfg.LogLevel, `log level, default info`)
	flag.Parse()

	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Mock {
		cfg.Cashier.Mock = true
	}

	log.Println("----------------------------------")
	log.Printf("initializing ledger")
	log.Printf("\tlisten:        %s", cfg.Listen)
	log.Printf("\tprom:          %s", cfg.PromPort)
	log.Printf("\tredis:         %s", cfg.RedisConfig)
	log.Printf("\toperator:      %s", cfg.Operator)
	log.Printf("\tpayment:       %s", cfg.PaymentAmount)
	log.Printf("\treward rate:   %d", cfg.RewardRate)
	log.Printf("\tsupply cap:    %s", cfg.SupplyCap)
	log.Printf("\tmock:          %t", cfg.Mock)
	log.Println("----------------------------------")

	logger := common.ConfigureZap(common.ParseLevel(cfg.LogLevel))
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ledger stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	terms, err := cfg.Terms()
	if err != nil {
		return err
	}
	operator, err := cfg.OperatorIdentity()
	if err != nil {
		return err
	}

	var store ledger.Store
	if cfg.Mock {
		store = memstore.New()
	} else {
		if store, err = postgres.NewStore(ctx, cfg.PostgresConfig); err != nil {
			return err
		}
	}

	opts := []ledger.Option{ledger.WithLogger(logger)}
	var recent api.RecentSource
	var nonces session.NonceStore = session.NewMemoryNonces(cfg.NonceCapacity)
	if cfg.RedisConfig != "" {
		notifier, err := notify.Dial(ctx, cfg.RedisConfig)
		if err != nil {
			return err
		}
		defer notifier.Close()
		opts = append(opts, ledger.WithNotifier(notifier))
		recent = notifier
		nonces = session.NewRedisNonces(notifier.Client())

		retention := time.Duration(cfg.RecentRetentionHours) * time.Hour
		if retention == 0 {
			retention = 24 * time.Hour
		}
		go notifier.StartPruner(ctx, 5*time.Minute, retention, logger)
	}

	if operator != (model.Identity{}) {
		payer, err := cashier.NewCashierClient(ctx, cfg.Cashier, logger)
		if err != nil {
			return err
		}
		opts = append(opts, ledger.WithOperator(operator, payer))
	}

	l, err := ledger.New(ctx, terms, store, opts...)
	if err != nil {
		return err
	}

	var resolver session.Resolver = session.NewSignatureResolver(time.Duration(cfg.MaxSkewSeconds)*time.Second, nonces)
	if cfg.TrustIdentityHeader {
		logger.Warn("trusting identity header without signatures, do not expose this instance")
		resolver = session.HeaderResolver{}
	}

	if operator != (model.Identity{}) && cfg.PayoutRetryMinutes > 0 {
		go cashier.StartReconciler(ctx, l, time.Duration(cfg.PayoutRetryMinutes)*time.Minute, logger)
	}

	if cfg.PromPort != "" {
		metrics.StartPromServer(logger, cfg.PromPort)
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(l, resolver, recent, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdown)
	}()

	logger.Info("ledger reachable", zap.String("address", cfg.Listen), zap.Stringer("ledger", l))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
