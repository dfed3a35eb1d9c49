//go:build integration

package settlement_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/tishop/marketplace-backend/internal/catalog"
	"github.com/tishop/marketplace-backend/internal/orders"
	"github.com/tishop/marketplace-backend/internal/payouts"
	"github.com/tishop/marketplace-backend/internal/settlement"
	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	"github.com/tishop/marketplace-backend/pkg/migrate"
	"github.com/tishop/marketplace-backend/pkg/moncash"
	"github.com/tishop/marketplace-backend/pkg/outbox"
)

var (
	lakayProduct   = uuid.MustParse("7e3a2b10-4c5d-4e6f-8a9b-1c2d3e4f5a01")
	kreyolProduct  = uuid.MustParse("7e3a2b10-4c5d-4e6f-8a9b-1c2d3e4f5a02")
	kreyolVariantM = uuid.MustParse("3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e01")
	fixtureCommune = uuid.MustParse("0f1e2d3c-4b5a-4968-8776-a5b4c3d2e101")
)

type paidGateway struct {
	reference string
	cost      decimal.Decimal
}

func (g *paidGateway) CreatePayment(_ context.Context, _ decimal.Decimal, reference string) (*moncash.Payment, error) {
	return &moncash.Payment{Token: "tok", RedirectURL: "https://moncash.test/redirect?token=tok"}, nil
}

func (g *paidGateway) RetrieveTransaction(_ context.Context, transactionID string) (*moncash.Transaction, error) {
	if g.reference == "" {
		return nil, errors.New("no payment recorded")
	}
	return &moncash.Transaction{TransactionID: transactionID, Reference: g.reference, Cost: g.cost, Message: "successful"}, nil
}

func setupPostgres(t *testing.T) *db.Client {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tishop"),
		postgres.WithUsername("tishop"),
		postgres.WithPassword("tishop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := db.New(ctx, config.DBConfig{DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	_, err = migrate.UpEmbedded(ctx, sqlDB)
	require.NoError(t, err)

	fixtures, err := migrate.LoadFixturesFile(filepath.Join("..", "..", "pkg", "migrate", "fixtures", "catalog.yaml"))
	require.NoError(t, err)
	_, err = migrate.Seed(ctx, client.DB(), fixtures)
	require.NoError(t, err)
	return client
}

func TestCheckoutToReleaseAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	client := setupPostgres(t)
	conn := client.DB()
	events := outbox.NewService(outbox.NewRepository(conn), nil)
	gateway := &paidGateway{}

	orderSvc, err := orders.NewService(orders.NewRepository(conn), catalog.NewRepository(conn), client, events, nil)
	require.NoError(t, err)
	settleSvc, err := settlement.NewService(settlement.NewRepository(conn), client, events, gateway, nil, settlement.Config{})
	require.NoError(t, err)
	payoutSvc, err := payouts.NewService(payouts.NewRepository(conn), client, events, nil, 24*time.Hour)
	require.NoError(t, err)

	created := createTwoSellerOrder(t, orderSvc)
	require.Len(t, created.SellerSummaries, 2)
	assert.True(t, created.TotalAmount.Equal(decimal.NewFromInt(2250)), "total %s", created.TotalAmount)

	gateway.reference = created.OrderNumber
	gateway.cost = created.TotalAmount
	confirmed, err := settleSvc.ConfirmPayment(ctx, settlement.PaymentConfirmationRequest{
		OrderID:       created.OrderID,
		TransactionID: "txn-integration",
		Source:        enums.ConfirmationSourceWebhook,
	})
	require.NoError(t, err)
	require.Len(t, confirmed.Codes, 2)

	again, err := settleSvc.ConfirmPayment(ctx, settlement.PaymentConfirmationRequest{
		OrderID:       created.OrderID,
		TransactionID: "txn-integration",
		Source:        enums.ConfirmationSourceReturn,
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyConfirmed)

	var sellerOrders []models.SellerOrder
	require.NoError(t, conn.Where("order_id = ?", created.OrderID).Find(&sellerOrders).Error)
	require.Len(t, sellerOrders, 2)
	assert.NotEqual(t, *sellerOrders[0].DeliveryCode, *sellerOrders[1].DeliveryCode)

	so := sellerOrders[0]
	_, err = settleSvc.Ship(ctx, settlement.ShipInput{SellerOrderID: so.ID, SellerID: so.SellerID})
	require.NoError(t, err)
	delivered, err := settleSvc.ConfirmDelivery(ctx, settlement.ConfirmDeliveryInput{
		SellerOrderID: so.ID,
		SellerID:      so.SellerID,
		Code:          *so.DeliveryCode,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SellerOrderStatusDelivered, delivered.Status)

	held, err := payoutSvc.Balances(ctx, so.SellerID, delivered.ChangedAt.Add(23*time.Hour))
	require.NoError(t, err)
	assert.True(t, held.Available.IsZero())
	assert.True(t, held.Pending.Equal(so.TotalAmount))

	released, err := payoutSvc.Balances(ctx, so.SellerID, delivered.ChangedAt.Add(25*time.Hour))
	require.NoError(t, err)
	assert.True(t, released.Available.Equal(so.TotalAmount))
	assert.True(t, released.Pending.IsZero())

	var paidEvents int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderPaid).Count(&paidEvents).Error)
	assert.EqualValues(t, 1, paidEvents)
}

func createTwoSellerOrder(t *testing.T, svc orders.Service) *orders.CreateOrderResult {
	t.Helper()
	created, err := svc.CreateOrder(context.Background(), orders.CreateOrderInput{
		CustomerName:     "Marie Joseph",
		CustomerEmail:    "marie@example.com",
		CustomerPhone:    "+50937000000",
		DepartmentID:     uuid.New(),
		ArrondissementID: uuid.New(),
		CommuneID:        fixtureCommune,
		Landmark:         "Near the church",
		DeliveryMethod:   enums.DeliveryMethodDelivery,
		PaymentMethod:    enums.PaymentMethodMonCash,
		Lines: []orders.CartLine{
			{ProductID: lakayProduct, Quantity: 2},
			{ProductID: kreyolProduct, VariantID: &kreyolVariantM, Quantity: 1},
		},
	})
	require.NoError(t, err)
	return created
}

func TestConcurrentConfirmationsIssueCodesOnce(t *testing.T) {
	ctx := context.Background()
	client := setupPostgres(t)
	conn := client.DB()
	events := outbox.NewService(outbox.NewRepository(conn), nil)
	gateway := &paidGateway{}

	orderSvc, err := orders.NewService(orders.NewRepository(conn), catalog.NewRepository(conn), client, events, nil)
	require.NoError(t, err)
	settleSvc, err := settlement.NewService(settlement.NewRepository(conn), client, events, gateway, nil, settlement.Config{})
	require.NoError(t, err)

	created := createTwoSellerOrder(t, orderSvc)
	gateway.reference = created.OrderNumber
	gateway.cost = created.TotalAmount

	const callers = 4
	results := make([]*settlement.ConfirmationResult, callers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		source := enums.ConfirmationSourceWebhook
		if i%2 == 1 {
			source = enums.ConfirmationSourceReturn
		}
		g.Go(func() error {
			res, err := settleSvc.ConfirmPayment(gctx, settlement.PaymentConfirmationRequest{
				OrderID:       created.OrderID,
				TransactionID: "txn-race",
				Source:        source,
			})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	fresh := 0
	for _, res := range results {
		require.Len(t, res.Codes, 2)
		assert.ElementsMatch(t, results[0].Codes, res.Codes)
		if !res.AlreadyConfirmed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	var paidEvents int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderPaid).Count(&paidEvents).Error)
	assert.EqualValues(t, 1, paidEvents)
}
