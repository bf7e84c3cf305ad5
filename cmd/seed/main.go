package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/freshcart-next/internal/config"
	"github.com/freshcart-next/internal/constants"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/repository"
	"github.com/freshcart-next/internal/service"
)

func main() {
	var email string
	flag.StringVar(&email, "email", "shopper@example.com", "演示用户邮箱")
	flag.Parse()

	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	productRepo := repository.NewProductRepository(models.DB)
	couponRepo := repository.NewCouponRepository(models.DB)
	userRepo := repository.NewUserRepository(models.DB)
	lookup := service.NewCouponLookupService(couponRepo, cfg.CouponCache.TTL(), cfg.CouponCache.NegativeTTL())
	catalog := service.NewCatalogService(productRepo, couponRepo, lookup, nil)
	ctx := context.Background()

	// 商品目录
	inactive := false
	products := []service.ProductInput{
		{ID: "milk-2l", Name: "Semi-skimmed milk 2L", UnitPrice: models.MustMoney("1.65"), Stock: 120, MaxQuantity: 6},
		{ID: "bread-white", Name: "White sliced loaf", UnitPrice: models.MustMoney("1.40"), Stock: 80, MaxQuantity: 4},
		{ID: "eggs-12", Name: "Free range eggs x12", UnitPrice: models.MustMoney("3.20"), DiscountedPrice: moneyPtr("2.75"), Stock: 30, MaxQuantity: 3},
		{ID: "bananas", Name: "Bananas (loose)", UnitPrice: models.MustMoney("0.18"), Stock: 500, MaxQuantity: 20},
		{ID: "coffee-beans", Name: "Coffee beans 1kg", UnitPrice: models.MustMoney("14.50"), Stock: 2, MaxQuantity: 5},
		{ID: "seasonal-pie", Name: "Seasonal mince pie", UnitPrice: models.MustMoney("2.50"), Stock: 0, MaxQuantity: 6, IsActive: &inactive},
	}
	for _, input := range products {
		_, created, err := catalog.UpsertProduct(ctx, input)
		if err != nil {
			stdLog.Fatalf("Failed to upsert product %s: %v", input.ID, err)
		}
		fmt.Printf("%s product %s\n", verb(created), input.ID)
	}

	// 优惠码
	expired := time.Now().AddDate(0, 0, -1)
	coupons := []service.CouponInput{
		{Code: "SAVE10", Kind: models.CouponKindPercentage, Value: models.MustMoney("10"), MinOrderAmount: models.MustMoney("20.00"), MaxDiscountAmount: models.MustMoney("15.00")},
		{Code: "FIVEOFF", Kind: models.CouponKindFixed, Value: models.MustMoney("5.00"), MinOrderAmount: models.MustMoney("25.00")},
		{Code: "FREESHIP", Kind: models.CouponKindFreeDelivery},
		{Code: "SUMMER", Kind: models.CouponKindPercentage, Value: models.MustMoney("20"), ValidUntil: &expired},
	}
	for _, input := range coupons {
		_, created, err := catalog.UpsertCoupon(ctx, input)
		if err != nil {
			stdLog.Fatalf("Failed to upsert coupon %s: %v", input.Code, err)
		}
		fmt.Printf("%s coupon %s\n", verb(created), input.Code)
	}

	// 演示用户
	user, err := userRepo.GetByEmail(email)
	if err != nil {
		stdLog.Fatalf("Failed to load user: %v", err)
	}
	if user == nil {
		user = &models.User{Email: email, Status: constants.UserStatusActive}
		if err := userRepo.Create(user); err != nil {
			stdLog.Fatalf("Failed to create user: %v", err)
		}
		fmt.Printf("Created user %s (id=%d)\n", user.Email, user.ID)
	}

	tokens := service.NewTokenService(cfg.UserJWT)
	token, expiresAt, err := tokens.GenerateUserJWT(user, 0)
	if err != nil {
		stdLog.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println("Seed data created successfully!")
	fmt.Printf("Bearer token for %s (expires %s):\n%s\n", user.Email, expiresAt.Format(time.RFC3339), token)
}

func moneyPtr(value string) *models.Money {
	m := models.MustMoney(value)
	return &m
}

func verb(created bool) string {
	if created {
		return "Created"
	}
	return "Updated"
}
