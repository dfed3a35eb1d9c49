package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tishop/marketplace-backend/internal/catalog"
	"github.com/tishop/marketplace-backend/internal/testdb"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	conn    *gorm.DB
	svc     Service
	commune uuid.UUID
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	conn := testdb.Open(t)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc, err := NewService(
		NewRepository(conn),
		catalog.NewRepository(conn),
		db.FromGorm(conn),
		outbox.NewService(outbox.NewRepository(conn), nil),
		nil,
		opts...,
	)
	require.NoError(t, err)
	return &fixture{conn: conn, svc: svc, commune: uuid.New()}
}

type seededShop struct {
	shop   models.Shop
	option models.DeliveryOption
}

func (f *fixture) seedShop(t *testing.T, fee int64) seededShop {
	t.Helper()
	shop := models.Shop{ID: uuid.New(), SellerID: uuid.New(), Name: "shop", IsActive: true}
	require.NoError(t, f.conn.Create(&shop).Error)
	option := models.DeliveryOption{ID: uuid.New(), ShopID: shop.ID, CommuneID: f.commune, Price: decimal.NewFromInt(fee), IsActive: true}
	require.NoError(t, f.conn.Create(&option).Error)
	return seededShop{shop: shop, option: option}
}

func (f *fixture) seedProduct(t *testing.T, shopID uuid.UUID, price int64, stock *int) models.Product {
	t.Helper()
	product := models.Product{ID: uuid.New(), ShopID: shopID, Name: "product", Price: decimal.NewFromInt(price), Stock: stock, IsActive: true}
	require.NoError(t, f.conn.Create(&product).Error)
	return product
}

func (f *fixture) input(lines ...CartLine) CreateOrderInput {
	return CreateOrderInput{
		CustomerName:     "Marie Joseph",
		CustomerEmail:    "Marie@Example.com",
		CustomerPhone:    "+50937000000",
		DepartmentID:     uuid.New(),
		ArrondissementID: uuid.New(),
		CommuneID:        f.commune,
		Landmark:         "Near the church",
		Lines:            lines,
	}
}

func intPtr(v int) *int { return &v }

func countRows(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestCreateOrderTwoSellersTotals2250(t *testing.T) {
	f := newFixture(t)
	a := f.seedShop(t, 100)
	b := f.seedShop(t, 150)
	pa := f.seedProduct(t, a.shop.ID, 500, nil)
	pb := f.seedProduct(t, b.shop.ID, 1000, intPtr(3))

	res, err := f.svc.CreateOrder(context.Background(), f.input(
		CartLine{ProductID: pa.ID, Quantity: 2},
		CartLine{ProductID: pb.ID, Quantity: 1},
	))
	require.NoError(t, err)

	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(2250)), "total %s", res.TotalAmount)
	assert.Equal(t, enums.PaymentMethodMonCash, res.PaymentMethod)
	assert.Regexp(t, `^TS-20260314-\d{6}$`, res.OrderNumber)
	require.Len(t, res.SellerSummaries, 2)
	assert.True(t, res.SellerSummaries[0].Total.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, a.shop.SellerID, res.SellerSummaries[0].SellerID)
	assert.True(t, res.SellerSummaries[1].Total.Equal(decimal.NewFromInt(1150)))

	order, err := f.svc.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, "marie@example.com", order.CustomerEmail)
	require.Len(t, order.SellerOrders, 2)
	for _, so := range order.SellerOrders {
		assert.Equal(t, enums.SellerOrderStatusPending, so.Status)
		assert.Nil(t, so.DeliveryCode)
		assert.True(t, so.DeliveryFee.IsPositive())
		assert.NotEmpty(t, so.Items)
	}

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
	assert.Equal(t, res.OrderID, events[0].AggregateID)
}

func TestCreateOrderSplitTotalsHoldForRandomCarts(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for run := 0; run < 25; run++ {
		t.Run(fmt.Sprintf("cart-%d", run), func(t *testing.T) {
			f := newFixture(t)
			sellers := 1 + rng.IntN(5)
			var lines []CartLine
			for i := 0; i < sellers; i++ {
				shop := f.seedShop(t, int64(rng.IntN(300)))
				for p := 0; p <= rng.IntN(3); p++ {
					product := f.seedProduct(t, shop.shop.ID, int64(1+rng.IntN(5000)), nil)
					lines = append(lines, CartLine{ProductID: product.ID, Quantity: 1 + rng.IntN(4)})
				}
			}

			res, err := f.svc.CreateOrder(context.Background(), f.input(lines...))
			require.NoError(t, err)

			order, err := f.svc.GetOrder(context.Background(), res.OrderID)
			require.NoError(t, err)
			require.Len(t, order.SellerOrders, sellers)

			sum := decimal.Zero
			for _, so := range order.SellerOrders {
				assert.True(t, so.TotalAmount.Equal(so.ItemsSubtotal.Add(so.DeliveryFee)))
				itemSum := decimal.Zero
				for _, item := range so.Items {
					assert.True(t, item.TotalPrice.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))))
					itemSum = itemSum.Add(item.TotalPrice)
				}
				assert.True(t, itemSum.Equal(so.ItemsSubtotal))
				sum = sum.Add(so.TotalAmount)
			}
			assert.True(t, order.TotalAmount.Equal(sum), "order total %s != %s", order.TotalAmount, sum)
		})
	}
}

func TestCreateOrderRejectsWhenAShopDoesNotServeCommune(t *testing.T) {
	f := newFixture(t)
	a := f.seedShop(t, 100)
	orphan := models.Shop{ID: uuid.New(), SellerID: uuid.New(), Name: "far away", IsActive: true}
	require.NoError(t, f.conn.Create(&orphan).Error)
	pa := f.seedProduct(t, a.shop.ID, 500, nil)
	pb := f.seedProduct(t, orphan.ID, 700, nil)

	_, err := f.svc.CreateOrder(context.Background(), f.input(
		CartLine{ProductID: pa.ID, Quantity: 1},
		CartLine{ProductID: pb.ID, Quantity: 1},
	))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, countRows(t, f.conn, &models.Order{}))
	assert.Zero(t, countRows(t, f.conn, &models.SellerOrder{}))
}

func TestCreateOrderPickupSkipsDeliveryFee(t *testing.T) {
	f := newFixture(t)
	orphan := models.Shop{ID: uuid.New(), SellerID: uuid.New(), Name: "pickup only", IsActive: true}
	require.NoError(t, f.conn.Create(&orphan).Error)
	p := f.seedProduct(t, orphan.ID, 250, nil)

	in := f.input(CartLine{ProductID: p.ID, Quantity: 2})
	in.DeliveryMethod = enums.DeliveryMethodPickup
	res, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(500)))
	assert.True(t, res.SellerSummaries[0].DeliveryFee.IsZero())
}

func TestCreateOrderVariantRules(t *testing.T) {
	f := newFixture(t)
	shop := f.seedShop(t, 0)
	product := models.Product{ID: uuid.New(), ShopID: shop.shop.ID, Name: "juice", Price: decimal.NewFromInt(300), HasVariants: true, IsActive: true}
	require.NoError(t, f.conn.Create(&product).Error)
	priced := decimal.NewFromInt(450)
	withPrice := models.ProductVariant{ID: uuid.New(), ProductID: product.ID, Name: "large", Price: &priced, Stock: intPtr(2)}
	noPrice := models.ProductVariant{ID: uuid.New(), ProductID: product.ID, Name: "small"}
	require.NoError(t, f.conn.Create(&withPrice).Error)
	require.NoError(t, f.conn.Create(&noPrice).Error)

	_, err := f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: product.ID, Quantity: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variant is required")

	foreign := f.seedProduct(t, shop.shop.ID, 10, nil)
	_, err = f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: foreign.ID, VariantID: &withPrice.ID, Quantity: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid product variant")

	_, err = f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: product.ID, VariantID: &withPrice.ID, Quantity: 3}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient stock")

	res, err := f.svc.CreateOrder(context.Background(), f.input(
		CartLine{ProductID: product.ID, VariantID: &withPrice.ID, Quantity: 2},
		CartLine{ProductID: product.ID, VariantID: &noPrice.ID, Quantity: 1},
	))
	require.NoError(t, err)
	assert.True(t, res.SellerSummaries[0].ItemsSubtotal.Equal(decimal.NewFromInt(1200)))
}

func TestCreateOrderStockCountsRepeatedLines(t *testing.T) {
	f := newFixture(t)
	shop := f.seedShop(t, 0)
	p := f.seedProduct(t, shop.shop.ID, 100, intPtr(3))

	_, err := f.svc.CreateOrder(context.Background(), f.input(
		CartLine{ProductID: p.ID, Quantity: 2},
		CartLine{ProductID: p.ID, Quantity: 2},
	))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateOrderValidatesInput(t *testing.T) {
	f := newFixture(t)
	shop := f.seedShop(t, 0)
	p := f.seedProduct(t, shop.shop.ID, 100, nil)

	cases := map[string]func(*CreateOrderInput){
		"missing name":     func(in *CreateOrderInput) { in.CustomerName = " " },
		"bad email":        func(in *CreateOrderInput) { in.CustomerEmail = "nope" },
		"missing commune":  func(in *CreateOrderInput) { in.CommuneID = uuid.Nil },
		"missing landmark": func(in *CreateOrderInput) { in.Landmark = "" },
		"empty cart":       func(in *CreateOrderInput) { in.Lines = nil },
		"zero quantity":    func(in *CreateOrderInput) { in.Lines[0].Quantity = 0 },
		"unknown product":  func(in *CreateOrderInput) { in.Lines[0].ProductID = uuid.New() },
		"bad payment":      func(in *CreateOrderInput) { in.PaymentMethod = "card" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := f.input(CartLine{ProductID: p.ID, Quantity: 1})
			mutate(&in)
			_, err := f.svc.CreateOrder(context.Background(), in)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
	assert.Zero(t, countRows(t, f.conn, &models.Order{}))
}

func TestCreateOrderRegeneratesCollidingOrderNumber(t *testing.T) {
	numbers := []string{"TS-20260314-111111", "TS-20260314-111111", "TS-20260314-222222"}
	calls := 0
	f := newFixture(t, WithOrderNumbers(func(time.Time) string {
		n := numbers[calls]
		calls++
		return n
	}))
	shop := f.seedShop(t, 0)
	p := f.seedProduct(t, shop.shop.ID, 100, nil)

	first, err := f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "TS-20260314-111111", first.OrderNumber)

	second, err := f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "TS-20260314-222222", second.OrderNumber)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), countRows(t, f.conn, &models.Order{}))
	assert.Equal(t, int64(2), countRows(t, f.conn, &models.SellerOrder{}))
}

func TestCreateOrderGivesUpAfterNumberAttempts(t *testing.T) {
	f := newFixture(t, WithNumberAttempts(2), WithOrderNumbers(func(time.Time) string { return "TS-20260314-999999" }))
	shop := f.seedShop(t, 0)
	p := f.seedProduct(t, shop.shop.ID, 100, nil)

	_, err := f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: p.ID, Quantity: 1}))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestListOrdersByEmailPaginates(t *testing.T) {
	clock := fixedNow
	f := newFixture(t, WithClock(func() time.Time { return clock }))
	shop := f.seedShop(t, 0)
	p := f.seedProduct(t, shop.shop.ID, 100, nil)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		clock = fixedNow.Add(time.Duration(i) * time.Minute)
		res, err := f.svc.CreateOrder(context.Background(), f.input(CartLine{ProductID: p.ID, Quantity: 1}))
		require.NoError(t, err)
		ids = append(ids, res.OrderID)
	}

	page, err := f.svc.ListOrdersByEmail(context.Background(), "MARIE@example.com", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)
	require.NotEmpty(t, page.Cursor)

	next, err := f.svc.ListOrdersByEmail(context.Background(), "marie@example.com", pagination.Params{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, ids[0], next.Items[0].ID)
	assert.Empty(t, next.Cursor)
}

func TestOrderListsNeverCarryDeliveryCodes(t *testing.T) {
	f := newFixture(t)
	a := f.seedShop(t, 100)
	b := f.seedShop(t, 150)
	pa := f.seedProduct(t, a.shop.ID, 500, nil)
	pb := f.seedProduct(t, b.shop.ID, 1000, nil)

	res, err := f.svc.CreateOrder(context.Background(), f.input(
		CartLine{ProductID: pa.ID, Quantity: 1},
		CartLine{ProductID: pb.ID, Quantity: 1},
	))
	require.NoError(t, err)
	codes := map[uuid.UUID]string{
		res.SellerSummaries[0].SellerOrderID: "482913",
		res.SellerSummaries[1].SellerOrderID: "482914",
	}
	for id, code := range codes {
		require.NoError(t, f.conn.Model(&models.SellerOrder{}).Where("id = ?", id).
			Updates(map[string]any{"delivery_code": code, "status": enums.SellerOrderStatusConfirmed}).Error)
	}

	list, err := f.svc.ListOrdersByEmail(context.Background(), "marie@example.com", pagination.Params{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Len(t, list.Items[0].SellerOrders, 2)
	for _, so := range list.Items[0].SellerOrders {
		assert.Nil(t, so.DeliveryCode)
	}
	raw, err := json.Marshal(list)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "48291")
	assert.NotContains(t, string(raw), "deliveryCode")
	assert.Contains(t, string(raw), `"orderNumber":"`+res.OrderNumber+`"`)
	assert.NotContains(t, string(raw), `"ID"`)

	detail, err := f.svc.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, detail.SellerOrders, 2)
	for _, so := range detail.SellerOrders {
		require.NotNil(t, so.DeliveryCode)
		assert.Equal(t, codes[so.ID], *so.DeliveryCode)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetOrder(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
