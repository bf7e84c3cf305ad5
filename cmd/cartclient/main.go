package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/freshcart-next/internal/cart"
	"github.com/freshcart-next/internal/cartsync"
	"github.com/freshcart-next/internal/checkout"
	"github.com/freshcart-next/internal/config"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/remote"
)

// itemFlags 形如 id:quantity:price[:max] 的加购参数，可重复
type itemFlags []string

func (f *itemFlags) String() string { return strings.Join(*f, ",") }

func (f *itemFlags) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func main() {
	var (
		items      itemFlags
		couponCode string
		token      string
		baseURL    string
		express    bool
	)
	flag.Var(&items, "item", "加购商品 id:quantity:price[:max]，可重复")
	flag.StringVar(&couponCode, "coupon", "", "优惠码")
	flag.StringVar(&token, "token", os.Getenv("FRESHCART_TOKEN"), "用户令牌，为空时以访客身份计价")
	flag.StringVar(&baseURL, "base-url", "", "远端地址，默认读取 sync.base_url")
	flag.BoolVar(&express, "express", false, "加急配送")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	pricingCfg, err := cfg.Cart.ToPricingConfig()
	if err != nil {
		stdLog.Fatalf("invalid cart config: %v", err)
	}
	if baseURL == "" {
		baseURL = cfg.Sync.BaseURL
	}

	client, err := remote.New(remote.Config{BaseURL: baseURL, Timeout: cfg.Sync.ToReconcilerConfig().RequestTimeout}, remote.StaticToken(token))
	if err != nil {
		stdLog.Fatalf("remote client init failed: %v", err)
	}
	store, err := cart.New(cart.Options{
		Pricing:            pricingCfg,
		Resolver:           client,
		DefaultMaxQuantity: cfg.Cart.DefaultMaxQuantity,
	})
	if err != nil {
		stdLog.Fatalf("cart init failed: %v", err)
	}

	ctx := context.Background()
	var syncer checkout.Syncer
	if token != "" {
		reconciler := cartsync.New(store, client, cfg.Sync.ToReconcilerConfig(), cartsync.Options{})
		defer reconciler.Close()
		if err := reconciler.OnAuthChanged(ctx, true); err != nil {
			stdLog.Printf("initial pull failed: %v", err)
		}
		syncer = reconciler
	}

	for _, raw := range items {
		product, quantity, err := parseItem(raw)
		if err != nil {
			stdLog.Fatalf("invalid -item %q: %v", raw, err)
		}
		result, err := store.AddItem(product, quantity)
		if err != nil {
			stdLog.Fatalf("add %s failed: %v", product.ID, err)
		}
		for _, warning := range result.Warnings {
			fmt.Printf("warning: %s\n", warning.String())
		}
	}
	if express {
		store.SetExpress(true)
	}
	if couponCode != "" {
		if _, err := store.ApplyCoupon(ctx, couponCode); err != nil {
			fmt.Printf("coupon %s not applied: %v\n", couponCode, err)
		}
	}

	gate := checkout.New(store, syncer, checkout.Options{})
	quote, err := gate.Prepare(ctx)
	if err != nil && !errors.Is(err, checkout.ErrItemsUnavailable) {
		fmt.Printf("checkout blocked: %v\n", err)
	}
	out, _ := json.MarshalIndent(quote, "", "  ")
	fmt.Println(string(out))
}

func parseItem(raw string) (cart.Product, int, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return cart.Product{}, 0, errors.New("want id:quantity:price[:max]")
	}
	quantity, err := strconv.Atoi(parts[1])
	if err != nil {
		return cart.Product{}, 0, fmt.Errorf("quantity: %w", err)
	}
	price, err := models.NewMoneyFromString(parts[2])
	if err != nil {
		return cart.Product{}, 0, fmt.Errorf("price: %w", err)
	}
	product := cart.Product{ID: parts[0], UnitPrice: price, MaxQuantity: 99, IsAvailable: true}
	if len(parts) == 4 {
		if product.MaxQuantity, err = strconv.Atoi(parts[3]); err != nil {
			return cart.Product{}, 0, fmt.Errorf("max: %w", err)
		}
	}
	return product, quantity, nil
}
