package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freshcart-next/internal/config"
	"github.com/freshcart-next/internal/constants"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRouterTest(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.Mode = "debug"
	cfg.UserJWT = config.JWTConfig{SecretKey: "router-test-secret", ExpireHours: 1}
	container := provider.NewContainerWithDB(cfg, db, nil)

	user := &models.User{Email: "shopper@example.com", Status: constants.UserStatusActive}
	if err := container.UserRepo.Create(user); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if err := container.ProductRepo.Create(&models.Product{ID: "milk", Name: "Milk", UnitPrice: models.MustMoney("1.20"), Stock: 40, MaxQuantity: 10, IsActive: true}); err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if err := container.CouponRepo.Create(&models.Coupon{Code: "save10", Kind: models.CouponKindPercentage, Value: models.MustMoney("10"), IsActive: true}); err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}
	token, _, err := container.TokenService.GenerateUserJWT(user, 0)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	return SetupRouter(cfg, container), token
}

func doJSON(r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _ := setupRouterTest(t)
	resp := decodeEnvelope(t, doJSON(r, http.MethodGet, "/healthz", "", nil))
	if resp.StatusCode != 0 {
		t.Fatalf("health status_code want 0 got %d (%s)", resp.StatusCode, resp.Msg)
	}
}

func TestGetCouponByCode(t *testing.T) {
	r, _ := setupRouterTest(t)

	resp := decodeEnvelope(t, doJSON(r, http.MethodGet, "/api/v1/coupons/save10", "", nil))
	if resp.StatusCode != 0 {
		t.Fatalf("coupon status_code want 0 got %d (%s)", resp.StatusCode, resp.Msg)
	}
	var coupon models.Coupon
	if err := json.Unmarshal(resp.Data, &coupon); err != nil {
		t.Fatalf("unmarshal coupon failed: %v", err)
	}
	if coupon.Code != "SAVE10" || coupon.Kind != models.CouponKindPercentage {
		t.Fatalf("unexpected coupon %+v", coupon)
	}

	resp = decodeEnvelope(t, doJSON(r, http.MethodGet, "/api/v1/coupons/nope", "", nil))
	if resp.StatusCode != 404 {
		t.Fatalf("unknown coupon status_code want 404 got %d", resp.StatusCode)
	}
}

func TestCartRoutesRequireAuth(t *testing.T) {
	r, _ := setupRouterTest(t)
	resp := decodeEnvelope(t, doJSON(r, http.MethodGet, "/api/v1/cart", "", nil))
	if resp.StatusCode != 401 {
		t.Fatalf("cart without token want 401 got %d", resp.StatusCode)
	}
}

func TestPushMutationThenSnapshot(t *testing.T) {
	r, token := setupRouterTest(t)

	mutation := models.CartMutationPayload{
		ID:        "m-1",
		SessionID: "s-1",
		Kind:      models.MutationUpsert,
		ProductID: "milk",
		Quantity:  3,
		Seq:       1,
		At:        time.Now(),
	}
	resp := decodeEnvelope(t, doJSON(r, http.MethodPost, "/api/v1/cart/mutations", token, mutation))
	if resp.StatusCode != 0 {
		t.Fatalf("push status_code want 0 got %d (%s)", resp.StatusCode, resp.Msg)
	}

	resp = decodeEnvelope(t, doJSON(r, http.MethodPost, "/api/v1/cart/mutations", token, mutation))
	var result struct {
		Applied   bool `json:"applied"`
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("unmarshal result failed: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("replayed mutation should be reported as duplicate: %+v", result)
	}

	resp = decodeEnvelope(t, doJSON(r, http.MethodGet, "/api/v1/cart", token, nil))
	if resp.StatusCode != 0 {
		t.Fatalf("snapshot status_code want 0 got %d (%s)", resp.StatusCode, resp.Msg)
	}
	var snapshot models.CartSnapshot
	if err := json.Unmarshal(resp.Data, &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot failed: %v", err)
	}
	if len(snapshot.Items) != 1 || snapshot.Items[0].Quantity != 3 {
		t.Fatalf("unexpected snapshot items %+v", snapshot.Items)
	}
	if !snapshot.Items[0].UnitPrice.Equal(models.MustMoney("1.20")) {
		t.Fatalf("snapshot price should come from catalog, got %s", snapshot.Items[0].UnitPrice.String())
	}
}

func TestPushMutationMapsRejections(t *testing.T) {
	r, token := setupRouterTest(t)

	cases := []struct {
		name     string
		mutation models.CartMutationPayload
		want     int
	}{
		{"unknown product", models.CartMutationPayload{ID: "m-a", Kind: models.MutationUpsert, ProductID: "ghost", Quantity: 1, Seq: 1}, 404},
		{"bad kind", models.CartMutationPayload{ID: "m-b", Kind: "explode", Seq: 2}, 400},
		{"unknown coupon", models.CartMutationPayload{ID: "m-c", Kind: models.MutationCouponApply, CouponCode: "NOPE", Seq: 3}, 404},
	}
	for _, tc := range cases {
		resp := decodeEnvelope(t, doJSON(r, http.MethodPost, "/api/v1/cart/mutations", token, tc.mutation))
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status_code want %d got %d (%s)", tc.name, tc.want, resp.StatusCode, resp.Msg)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/mutations", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if resp := decodeEnvelope(t, w); resp.StatusCode != 400 {
		t.Fatalf("malformed body want 400 got %d", resp.StatusCode)
	}
}
