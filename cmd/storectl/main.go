// Package main запускает терминальный клиент витрины: выбор групп,
// создание счёта, показ QR и ожидание подтверждения оплаты.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/billing"
	"github.com/mmeshcher/storefront-system/internal/catalog"
	"github.com/mmeshcher/storefront-system/internal/checkout"
	"github.com/mmeshcher/storefront-system/internal/identity"
)

func main() {
	var (
		serverAddr   string
		groupIDs     string
		userOverride int64
		initData     string
		botToken     string
		pollInterval time.Duration
		pollBudget   int
	)

	flag.StringVar(&serverAddr, "server", "localhost:8080", "storefront server address")
	flag.StringVar(&groupIDs, "groups", "", "comma separated group ids to buy")
	flag.Int64Var(&userOverride, "user", 0, "telegram user id when init data is absent")
	flag.StringVar(&initData, "init-data", "", "telegram web app init data")
	flag.StringVar(&botToken, "token", "", "bot token for init data verification")
	flag.DurationVar(&pollInterval, "interval", checkout.DefaultPollInterval, "payment status poll interval")
	flag.IntVar(&pollBudget, "budget", checkout.DefaultPollBudget, "payment status poll budget")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, serverAddr, groupIDs, userOverride, initData, botToken, pollInterval, pollBudget); err != nil {
		logger.Fatal("checkout failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, serverAddr, groupIDs string, userOverride int64, initData, botToken string, pollInterval time.Duration, pollBudget int) error {
	client := billing.NewClient(serverAddr)

	cfg, err := client.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetch store config: %w", err)
	}

	store := catalog.NewStore()
	if err := store.Load(cfg.Groups); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	pricing := catalog.NewPricing(store, cfg.Price)

	for _, id := range strings.Split(groupIDs, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			store.Toggle(id)
		}
	}

	selected := store.SelectedIDs()
	if len(selected) == 0 {
		return fmt.Errorf("nothing selected, pass -groups with catalog ids")
	}

	total, err := pricing.Total(selected)
	if err != nil {
		return fmt.Errorf("compute total: %w", err)
	}
	fmt.Printf("Selected %d group(s), total %d\n", len(selected), total)

	resolver := identity.NewResolver(botToken, initData, userOverride)

	paid := make(chan struct{})
	ctrl := checkout.NewController(store, pricing, resolver, client, logger, func() {
		close(paid)
	})
	ctrl.SetPollPolicy(pollInterval, pollBudget)

	session, err := ctrl.Checkout(ctx)
	if err != nil {
		if ctrl.State() == checkout.StateFailed {
			return fmt.Errorf("invoice rejected: %s", ctrl.FailureMessage())
		}
		return err
	}

	fmt.Printf("Invoice %s for %d created, pay with message INV:%s\n", session.InvoiceID, session.Amount, session.InvoiceID)
	fmt.Printf("QR image: %s\n\n", client.QRImageURL(session.InvoiceID, session.Amount))

	payload := fmt.Sprintf("INV:%s\namount:%d", session.InvoiceID, session.Amount)
	qrterminal.GenerateHalfBlock(payload, qrterminal.L, os.Stdout)
	fmt.Println()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ctrl.Cancel()
			return fmt.Errorf("interrupted, invoice %s left unpaid", session.InvoiceID)
		case <-paid:
			fmt.Println("Payment confirmed, invites are on the way")
			return nil
		case <-ticker.C:
		}

		switch ctrl.State() {
		case checkout.StatePaid:
			// канал paid закрывается из цикла опроса, сюда попадаем при гонке тиков
			fmt.Println("Payment confirmed, invites are on the way")
			return nil
		case checkout.StateAbandoned:
			fmt.Println("Poll budget exhausted, checking one last time...")
			status, err := ctrl.Recheck(ctx)
			if err != nil {
				return fmt.Errorf("recheck: %w", err)
			}
			if ctrl.State() == checkout.StatePaid {
				fmt.Println("Payment confirmed, invites are on the way")
				return nil
			}
			return fmt.Errorf("invoice %s is still %s, pay and rerun with the same groups", session.InvoiceID, status)
		case checkout.StateFailed:
			return fmt.Errorf("invoice rejected: %s", ctrl.FailureMessage())
		}
	}
}
