package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"

	"mailflow/internal/classify"
	"mailflow/internal/config"
	"mailflow/internal/gmail"
	"mailflow/internal/history"
	"mailflow/internal/labels"
	"mailflow/internal/pipeline"
	"mailflow/internal/push"
	"mailflow/internal/rate"
	"mailflow/internal/runtime"
	"mailflow/internal/store"
)

func main() {
	cfg := config.Load()
	logger := runtime.DefaultLogger()
	if err := run(cfg, logger); err != nil {
		logger.Error("mailflow failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	limiter := rate.NewTokenBucket(cfg.RPS, cfg.Burst)
	defer limiter.Stop()

	client, err := runtime.NewGmailClient(ctx, cfg.CredentialsDir, limiter)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	labelIDs, err := labels.Reconcile(ctx, client, st, cfg.UserID, logger)
	if err != nil {
		return fmt.Errorf("reconcile labels: %w", err)
	}

	sink, closeSink, err := newSink(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create attachment sink: %w", err)
	}
	defer closeSink()

	rules := userRules(labelIDs, sink, logger)

	sched := classify.NewScheduler(st, client, logger)
	sched.Lookback = cfg.Lookback
	sched.Workers = cfg.Workers
	sched.Pass(ctx, cfg.UserID, rules)

	engine := history.NewEngine(st, client, logger)

	if cfg.Topic != "" {
		info, err := client.Watch(ctx, cfg.UserID, cfg.Topic)
		if err != nil {
			return fmt.Errorf("register watch: %w", err)
		}
		logger.Info("watch registered", "history_id", info.HistoryID, "expires", info.Expiration)

		initialized, err := engine.Initialized(ctx, cfg.UserID)
		if err != nil {
			return fmt.Errorf("check cursor state: %w", err)
		}
		if !initialized {
			if err := engine.Initialize(ctx, cfg.UserID, info.HistoryID); err != nil {
				return fmt.Errorf("seed cursor: %w", err)
			}
		}
	}

	if cfg.ProjectID == "" || cfg.Subscription == "" {
		logger.Info("no push subscription configured; exiting after scheduler pass")
		return nil
	}

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	defer psClient.Close()

	consumer := push.NewConsumer(engine, func(ctx context.Context, userID string, ids []string) error {
		// TODO route new message ids through the registered rules instead
		// of only logging them.
		logger.InfoContext(ctx, "new messages", "user", userID, "count", len(ids))
		return nil
	}, logger)

	if err := consumer.Run(ctx, psClient.Subscription(cfg.Subscription)); err != nil {
		return fmt.Errorf("consume notifications: %w", err)
	}
	return nil
}

// newSink picks the attachment destination: an object-storage bucket when
// one is configured, the local attachment directory otherwise.
func newSink(ctx context.Context, cfg *config.Config) (pipeline.Sink, func(), error) {
	if cfg.Bucket == "" {
		sink, err := pipeline.NewDirSink(cfg.AttachmentsDir)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	}
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	sink := pipeline.NewBucketSink(sc.Bucket(cfg.Bucket), "attachments")
	return sink, func() { _ = sc.Close() }, nil
}

// userRules is the deployment-specific rule list: configuration data, not
// logic. Rules whose labels are not declared yet are skipped with a log
// line rather than failing the whole pass.
func userRules(labelIDs map[string]string, sink pipeline.Sink, logger *slog.Logger) []*classify.Classifier {
	var rules []*classify.Classifier

	add := func(name, query string, stages ...pipeline.Stage) {
		plan, err := pipeline.NewPlan(stages...)
		if err != nil {
			logger.Error("invalid rule plan", "rule", name, "error", err)
			return
		}
		rules = append(rules, classify.NewClassifier(name, query, plan))
	}

	if id, ok := labelIDs["Billing"]; ok {
		add("Billing",
			gmail.Criteria{From: "billing", Has: "attachment"}.BuildQuery(),
			pipeline.FetchContent(gmail.FormatFull),
			pipeline.DownloadAttachments(nil, sink),
			pipeline.ManageLabels([]string{id}, nil),
		)
	} else {
		logger.Warn("label not declared; skipping rule", "rule", "Billing", "label", "Billing")
	}

	if id, ok := labelIDs["Newsletters"]; ok {
		add("Newsletters",
			`subject:(newsletter OR digest) unsubscribe`,
			pipeline.ManageLabels([]string{id}, []string{"INBOX"}),
		)
	} else {
		logger.Warn("label not declared; skipping rule", "rule", "Newsletters", "label", "Newsletters")
	}

	return rules
}
