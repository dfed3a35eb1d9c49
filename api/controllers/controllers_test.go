package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishop/marketplace-backend/api/middleware"
	"github.com/tishop/marketplace-backend/internal/orders"
	"github.com/tishop/marketplace-backend/internal/payouts"
	"github.com/tishop/marketplace-backend/internal/settlement"
	moncashwebhook "github.com/tishop/marketplace-backend/internal/webhooks/moncash"
	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/pagination"
	"github.com/tishop/marketplace-backend/pkg/types"
)

const confirmPage = "https://tishop.ht/order-confirmation"

type fakeOrderService struct {
	created   orders.CreateOrderInput
	listEmail string
	listLimit int
	err       error
}

func (f *fakeOrderService) CreateOrder(_ context.Context, input orders.CreateOrderInput) (*orders.CreateOrderResult, error) {
	f.created = input
	if f.err != nil {
		return nil, f.err
	}
	return &orders.CreateOrderResult{OrderID: uuid.New(), OrderNumber: "TS-1", TotalAmount: decimal.NewFromInt(100)}, nil
}

func (f *fakeOrderService) GetOrder(_ context.Context, orderID uuid.UUID) (*orders.OrderDTO, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &orders.OrderDTO{ID: orderID, OrderNumber: "TS-20260314-100001", Status: enums.OrderStatusPending}, nil
}

func (f *fakeOrderService) ListOrdersByEmail(_ context.Context, email string, params pagination.Params) (*orders.OrderList, error) {
	f.listEmail = email
	f.listLimit = params.Limit
	return &orders.OrderList{Items: []orders.OrderDTO{}}, nil
}

type fakeSettlement struct {
	confirmReq  settlement.PaymentConfirmationRequest
	confirmErr  error
	shipCalls   int
	cancelCalls int
	delivery    settlement.ConfirmDeliveryInput
	transitErr  error
	filter      settlement.SellerOrderFilter
	actor       settlement.Actor
	reason      string
}

func (f *fakeSettlement) InitiatePayment(_ context.Context, orderID uuid.UUID) (*settlement.PaymentSession, error) {
	return &settlement.PaymentSession{OrderID: orderID, RedirectURL: "https://moncash.example/pay?token=abc"}, nil
}

func (f *fakeSettlement) ConfirmPayment(_ context.Context, req settlement.PaymentConfirmationRequest) (*settlement.ConfirmationResult, error) {
	f.confirmReq = req
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &settlement.ConfirmationResult{OrderID: req.OrderID, Status: enums.OrderStatusPaid}, nil
}

func (f *fakeSettlement) MarkPaidManually(_ context.Context, orderID uuid.UUID, actor settlement.Actor) (*settlement.ConfirmationResult, error) {
	f.actor = actor
	return &settlement.ConfirmationResult{OrderID: orderID, Status: enums.OrderStatusPaid}, nil
}

func (f *fakeSettlement) CancelOrder(_ context.Context, _ uuid.UUID, actor settlement.Actor, reason string) error {
	f.actor = actor
	f.reason = reason
	return nil
}

func (f *fakeSettlement) ResetDeliveryAttempts(_ context.Context, _ uuid.UUID, actor settlement.Actor) error {
	f.actor = actor
	return nil
}

func (f *fakeSettlement) Ship(_ context.Context, input settlement.ShipInput) (*settlement.TransitionResult, error) {
	f.shipCalls++
	if f.transitErr != nil {
		return nil, f.transitErr
	}
	return &settlement.TransitionResult{SellerOrderID: input.SellerOrderID, Status: enums.SellerOrderStatusShipped}, nil
}

func (f *fakeSettlement) ConfirmDelivery(_ context.Context, input settlement.ConfirmDeliveryInput) (*settlement.TransitionResult, error) {
	f.delivery = input
	if f.transitErr != nil {
		return nil, f.transitErr
	}
	return &settlement.TransitionResult{SellerOrderID: input.SellerOrderID, Status: enums.SellerOrderStatusDelivered}, nil
}

func (f *fakeSettlement) Cancel(_ context.Context, input settlement.CancelInput) (*settlement.TransitionResult, error) {
	f.cancelCalls++
	return &settlement.TransitionResult{SellerOrderID: input.SellerOrderID, Status: enums.SellerOrderStatusCancelled}, nil
}

func (f *fakeSettlement) ListSellerOrders(_ context.Context, _ uuid.UUID, filter settlement.SellerOrderFilter, _ pagination.Params) (*settlement.SellerOrderList, error) {
	f.filter = filter
	return &settlement.SellerOrderList{Items: []settlement.SellerOrderDTO{}}, nil
}

func (f *fakeSettlement) GetSellerOrder(_ context.Context, _, sellerOrderID uuid.UUID) (*settlement.SellerOrderDetail, error) {
	return &settlement.SellerOrderDetail{SellerOrder: settlement.SellerOrderDTO{ID: sellerOrderID}}, nil
}

type fakePayouts struct {
	withdraw payouts.WithdrawInput
	err      error
}

func (f *fakePayouts) Withdraw(_ context.Context, input payouts.WithdrawInput) (*payouts.WithdrawResult, error) {
	f.withdraw = input
	if f.err != nil {
		return nil, f.err
	}
	return &payouts.WithdrawResult{Payout: payouts.PayoutView{Amount: input.Amount, Status: enums.PayoutStatusPending}}, nil
}

func (f *fakePayouts) Summary(_ context.Context, _ uuid.UUID) (*payouts.Summary, error) {
	return &payouts.Summary{CanWithdraw: true}, nil
}

type fakeWebhook struct {
	outcome *moncashwebhook.Outcome
	err     error
	got     moncashwebhook.Notification
}

func (f *fakeWebhook) Handle(_ context.Context, n moncashwebhook.Notification) (*moncashwebhook.Outcome, error) {
	f.got = n
	return f.outcome, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func serve(t *testing.T, method, pattern, target string, body string, h http.HandlerFunc, ctx context.Context) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Method(method, pattern, h)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sellerContext(sellerID uuid.UUID) context.Context {
	return middleware.WithActor(context.Background(), sellerID, enums.ActorRoleSeller)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorBody {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error
}

func TestCreateOrderMapsRequest(t *testing.T) {
	svc := &fakeOrderService{}
	productID := uuid.New()
	body := `{
		"customerName": "Marie Joseph",
		"customerEmail": "marie@example.com",
		"customerPhone": "+50937000000",
		"departmentId": "` + uuid.NewString() + `",
		"arrondissementId": "` + uuid.NewString() + `",
		"communeId": "` + uuid.NewString() + `",
		"landmark": "near the church",
		"items": [{"productId": "` + productID.String() + `", "quantity": 2}]
	}`

	rec := serve(t, http.MethodPost, "/api/v1/orders", "/api/v1/orders", body, CreateOrder(svc, logger.Nop()), nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, enums.PaymentMethodMonCash, svc.created.PaymentMethod)
	assert.Equal(t, enums.DeliveryMethodDelivery, svc.created.DeliveryMethod)
	require.Len(t, svc.created.Lines, 1)
	assert.Equal(t, productID, svc.created.Lines[0].ProductID)
	assert.Equal(t, 2, svc.created.Lines[0].Quantity)
	assert.Nil(t, svc.created.Lines[0].VariantID)
}

func TestCreateOrderRejectsInvalidBody(t *testing.T) {
	svc := &fakeOrderService{}
	body := `{"customerName": "Marie", "customerEmail": "not-an-email", "items": []}`

	rec := serve(t, http.MethodPost, "/api/v1/orders", "/api/v1/orders", body, CreateOrder(svc, logger.Nop()), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeValidation), apiErr.Code)
	assert.Empty(t, svc.created.Lines)
}

func TestListOrdersRequiresEmail(t *testing.T) {
	svc := &fakeOrderService{}
	h := ListOrders(svc, logger.Nop())

	rec := serve(t, http.MethodGet, "/api/v1/orders", "/api/v1/orders", "", h, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodGet, "/api/v1/orders", "/api/v1/orders?email=marie@example.com&limit=5", "", h, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "marie@example.com", svc.listEmail)
	assert.Equal(t, 5, svc.listLimit)
}

func TestOrderDetailNotFound(t *testing.T) {
	svc := &fakeOrderService{err: pkgerrors.Wrap(pkgerrors.CodeNotFound, orders.ErrOrderNotFound, "order not found")}
	h := OrderDetail(svc, logger.Nop())

	rec := serve(t, http.MethodGet, "/api/v1/orders/{orderId}", "/api/v1/orders/"+uuid.NewString(), "", h, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, http.MethodGet, "/api/v1/orders/{orderId}", "/api/v1/orders/nope", "", h, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderDetailWritesCamelCaseView(t *testing.T) {
	orderID := uuid.New()
	rec := serve(t, http.MethodGet, "/api/v1/orders/{orderId}", "/api/v1/orders/"+orderID.String(), "", OrderDetail(&fakeOrderService{}, logger.Nop()), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, orderID.String(), env.Data["id"])
	assert.Equal(t, "TS-20260314-100001", env.Data["orderNumber"])
	assert.NotContains(t, env.Data, "ID")
	assert.NotContains(t, env.Data, "OrderNumber")
}

func TestInitiateMonCashPayment(t *testing.T) {
	orderID := uuid.New()
	rec := serve(t, http.MethodPost, "/api/v1/orders/{orderId}/payments/moncash", "/api/v1/orders/"+orderID.String()+"/payments/moncash", "", InitiateMonCashPayment(&fakeSettlement{}, logger.Nop()), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://moncash.example/pay?token=abc")
}

func TestMonCashReturnRedirects(t *testing.T) {
	orderID := uuid.New()
	cases := []struct {
		name      string
		query     string
		err       error
		wantError string
	}{
		{name: "missing params", query: "?transaction_id=", wantError: "missing_transaction_params"},
		{name: "bad order id", query: "?transaction_id=tx-1&order_id=nope", wantError: "missing_transaction_params"},
		{name: "not found", err: pkgerrors.Wrap(pkgerrors.CodeNotFound, settlement.ErrOrderNotFound, "order not found"), wantError: "order_not_found"},
		{name: "cancelled", err: pkgerrors.Wrap(pkgerrors.CodeStateConflict, settlement.ErrOrderCancelled, "cancelled"), wantError: "order_cancelled"},
		{name: "unsuccessful", err: pkgerrors.Wrap(pkgerrors.CodeVerification, settlement.ErrPaymentUnverified, "unverified"), wantError: "payment_unsuccessful"},
		{name: "amount mismatch", err: pkgerrors.Wrap(pkgerrors.CodeVerification, settlement.ErrAmountMismatch, "mismatch"), wantError: "amount_mismatch"},
		{name: "reused transaction", err: pkgerrors.Wrap(pkgerrors.CodeStateConflict, settlement.ErrTransactionReused, "reused"), wantError: "payment_unsuccessful"},
		{name: "gateway down", err: pkgerrors.Wrap(pkgerrors.CodeDependency, settlement.ErrGatewayUnavailable, "down"), wantError: "verification_failed"},
		{name: "unexpected", err: errors.New("boom"), wantError: "server_error"},
		{name: "success"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeSettlement{confirmErr: tc.err}
			query := tc.query
			if query == "" {
				query = "?transaction_id=tx-1&order_id=" + orderID.String()
			}
			rec := serve(t, http.MethodGet, "/api/v1/payments/moncash/return", "/api/v1/payments/moncash/return"+query, "", MonCashReturn(svc, confirmPage, logger.Nop()), nil)

			require.Equal(t, http.StatusFound, rec.Code)
			location, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "tishop.ht", location.Host)
			if tc.wantError == "" {
				assert.Equal(t, "true", location.Query().Get("success"))
				assert.Equal(t, orderID.String(), location.Query().Get("orderId"))
				assert.Equal(t, enums.ConfirmationSourceReturn, svc.confirmReq.Source)
				assert.Equal(t, "tx-1", svc.confirmReq.TransactionID)
				return
			}
			assert.Equal(t, tc.wantError, location.Query().Get("error"))
		})
	}
}

func TestMonCashWebhookResponses(t *testing.T) {
	orderID := uuid.New()
	body := `{"transaction_id":"tx-9","order_id":"` + orderID.String() + `","payment_status":"successful"}`

	t.Run("handled", func(t *testing.T) {
		hook := &fakeWebhook{outcome: &moncashwebhook.Outcome{Status: moncashwebhook.StatusSuccess, OrderID: orderID}}
		rec := serve(t, http.MethodPost, "/api/v1/webhooks/moncash", "/api/v1/webhooks/moncash", body, MonCashWebhook(hook, logger.Nop()), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tx-9", hook.got.TransactionID)
		var out map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
		assert.Equal(t, "success", out["status"])
	})

	t.Run("malformed", func(t *testing.T) {
		rec := serve(t, http.MethodPost, "/api/v1/webhooks/moncash", "/api/v1/webhooks/moncash", "{", MonCashWebhook(&fakeWebhook{}, logger.Nop()), nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		hook := &fakeWebhook{err: pkgerrors.New(pkgerrors.CodeValidation, "transaction_id and order_id are required")}
		rec := serve(t, http.MethodPost, "/api/v1/webhooks/moncash", "/api/v1/webhooks/moncash", `{}`, MonCashWebhook(hook, logger.Nop()), nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("infrastructure failure", func(t *testing.T) {
		hook := &fakeWebhook{err: pkgerrors.New(pkgerrors.CodeDependency, "redis down")}
		rec := serve(t, http.MethodPost, "/api/v1/webhooks/moncash", "/api/v1/webhooks/moncash", body, MonCashWebhook(hook, logger.Nop()), nil)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"error"`)
	})
}

func TestUpdateSellerOrderStatusDispatches(t *testing.T) {
	sellerID := uuid.New()
	sellerOrderID := uuid.New()
	svc := &fakeSettlement{}
	h := UpdateSellerOrderStatus(svc, logger.Nop())
	pattern := "/api/v1/seller/orders/{sellerOrderId}/status"
	target := "/api/v1/seller/orders/" + sellerOrderID.String() + "/status"

	rec := serve(t, http.MethodPatch, pattern, target, `{"status":"shipped"}`, h, sellerContext(sellerID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, svc.shipCalls)

	rec = serve(t, http.MethodPatch, pattern, target, `{"status":"cancelled"}`, h, sellerContext(sellerID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.cancelCalls)

	rec = serve(t, http.MethodPatch, pattern, target, `{"status":"delivered"}`, h, sellerContext(sellerID))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPatch, pattern, target, `{"status":"shipped"}`, h, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateSellerOrderStatusSurfacesConflict(t *testing.T) {
	svc := &fakeSettlement{transitErr: pkgerrors.Wrap(pkgerrors.CodeStateConflict, settlement.ErrInvalidTransition, "cannot move from delivered to shipped")}
	sellerOrderID := uuid.New()

	rec := serve(t, http.MethodPatch, "/api/v1/seller/orders/{sellerOrderId}/status", "/api/v1/seller/orders/"+sellerOrderID.String()+"/status", `{"status":"shipped"}`, UpdateSellerOrderStatus(svc, logger.Nop()), sellerContext(uuid.New()))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeStateConflict), decodeError(t, rec).Code)
}

func TestConfirmSellerDelivery(t *testing.T) {
	sellerID := uuid.New()
	sellerOrderID := uuid.New()
	svc := &fakeSettlement{}

	rec := serve(t, http.MethodPost, "/api/v1/seller/orders/{sellerOrderId}/confirm-delivery", "/api/v1/seller/orders/"+sellerOrderID.String()+"/confirm-delivery", `{"code":" 123456 "}`, ConfirmSellerDelivery(svc, logger.Nop()), sellerContext(sellerID))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "123456", svc.delivery.Code)
	assert.Equal(t, sellerID, svc.delivery.SellerID)
	assert.Equal(t, sellerOrderID, svc.delivery.SellerOrderID)
}

func TestSellerOrdersStatusFilter(t *testing.T) {
	svc := &fakeSettlement{}
	h := SellerOrders(svc, logger.Nop())

	rec := serve(t, http.MethodGet, "/api/v1/seller/orders", "/api/v1/seller/orders?status=shipped", "", h, sellerContext(uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.filter.Status)
	assert.Equal(t, enums.SellerOrderStatusShipped, *svc.filter.Status)

	rec = serve(t, http.MethodGet, "/api/v1/seller/orders", "/api/v1/seller/orders?status=returned", "", h, sellerContext(uuid.New()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSellerWithdraw(t *testing.T) {
	sellerID := uuid.New()
	svc := &fakePayouts{}
	h := SellerWithdraw(svc, logger.Nop())

	rec := serve(t, http.MethodPost, "/api/v1/seller/payouts/withdraw", "/api/v1/seller/payouts/withdraw", `{"amount":"1500.50"}`, h, sellerContext(sellerID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decimal.RequireFromString("1500.50").Equal(svc.withdraw.Amount))
	assert.Equal(t, sellerID, svc.withdraw.SellerID)

	rec = serve(t, http.MethodPost, "/api/v1/seller/payouts/withdraw", "/api/v1/seller/payouts/withdraw", `{"amount":0}`, h, sellerContext(sellerID))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = pkgerrors.Wrap(pkgerrors.CodeStateConflict, payouts.ErrInsufficientBalance, "insufficient balance")
	rec = serve(t, http.MethodPost, "/api/v1/seller/payouts/withdraw", "/api/v1/seller/payouts/withdraw", `{"amount":10}`, h, sellerContext(sellerID))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSellerPayoutSummary(t *testing.T) {
	rec := serve(t, http.MethodGet, "/api/v1/seller/payouts", "/api/v1/seller/payouts", "", SellerPayoutSummary(&fakePayouts{}, logger.Nop()), sellerContext(uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"canWithdraw":true`)
}

func TestAdminCancelOrderDefaultsReason(t *testing.T) {
	adminID := uuid.New()
	svc := &fakeSettlement{}
	ctx := middleware.WithActor(context.Background(), adminID, enums.ActorRoleAdmin)
	orderID := uuid.New()

	rec := serve(t, http.MethodPost, "/api/v1/admin/orders/{orderId}/cancel", "/api/v1/admin/orders/"+orderID.String()+"/cancel", "", AdminCancelOrder(svc, logger.Nop()), ctx)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, defaultAdminCancelReason, svc.reason)
	assert.Equal(t, settlement.Actor{ID: adminID, Role: enums.ActorRoleAdmin}, svc.actor)
}

func TestAdminMarkOrderPaid(t *testing.T) {
	adminID := uuid.New()
	svc := &fakeSettlement{}
	ctx := middleware.WithActor(context.Background(), adminID, enums.ActorRoleAdmin)
	orderID := uuid.New()

	rec := serve(t, http.MethodPost, "/api/v1/admin/orders/{orderId}/mark-paid", "/api/v1/admin/orders/"+orderID.String()+"/mark-paid", "", AdminMarkOrderPaid(svc, logger.Nop()), ctx)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, adminID, svc.actor.ID)
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	rec := serve(t, http.MethodGet, "/health/ready", "/health/ready", "", HealthReady(cfg, logger.Nop(), map[string]Pinger{"db": fakePinger{}, "redis": fakePinger{}}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get("X-Tishop-Env"))

	rec = serve(t, http.MethodGet, "/health/ready", "/health/ready", "", HealthReady(cfg, logger.Nop(), map[string]Pinger{"db": fakePinger{}, "redis": fakePinger{err: errors.New("refused")}}), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
