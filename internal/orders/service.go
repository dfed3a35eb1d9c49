package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tishop/marketplace-backend/internal/catalog"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/outbox/payloads"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

const (
	orderNumberPrefix     = "TS"
	orderNumberConstraint = "order_number"
	defaultNumberAttempts = 5
)

// ErrOrderNotFound is returned when an order id does not resolve.
var ErrOrderNotFound = errors.New("order not found")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service composes multi-seller orders and serves the customer reads.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error)
	ListOrdersByEmail(ctx context.Context, email string, params pagination.Params) (*OrderList, error)
}

// Option customizes the service.
type Option func(*service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOrderNumbers overrides the order number generator.
func WithOrderNumbers(next func(time.Time) string) Option {
	return func(s *service) {
		if next != nil {
			s.nextNumber = next
		}
	}
}

// WithNumberAttempts bounds how many order numbers are tried before giving up.
func WithNumberAttempts(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.numberAttempts = n
		}
	}
}

type service struct {
	repo           Repository
	catalog        catalog.Repository
	tx             txRunner
	outbox         outboxPublisher
	logg           *logger.Logger
	now            func() time.Time
	nextNumber     func(time.Time) string
	numberAttempts int
}

// NewService builds the order composer.
func NewService(repo Repository, catalogRepo catalog.Repository, tx txRunner, outbox outboxPublisher, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		repo:           repo,
		catalog:        catalogRepo,
		tx:             tx,
		outbox:         outbox,
		logg:           logg,
		now:            time.Now,
		nextNumber:     NewOrderNumber,
		numberAttempts: defaultNumberAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewOrderNumber returns TS-YYYYMMDD-NNNNNN with a random six digit suffix.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, now.UTC().Format("20060102"), 100000+rand.IntN(900000))
}

// pricedLine is a cart line resolved against the catalog.
type pricedLine struct {
	productID uuid.UUID
	variantID *uuid.UUID
	shopID    uuid.UUID
	quantity  int
	unitPrice decimal.Decimal
	lineTotal decimal.Decimal
}

type shopGroup struct {
	shop   models.Shop
	option *models.DeliveryOption
	lines  []pricedLine
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	input, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, input.Lines)
	if err != nil {
		return nil, err
	}

	groups, err := s.groupByShop(ctx, lines, input)
	if err != nil {
		return nil, err
	}

	order := buildOrder(input, groups, s.now().UTC())

	for attempt := 1; attempt <= s.numberAttempts; attempt++ {
		order.OrderNumber = s.nextNumber(order.CreatedAt)
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, orderCreatedEvent(order))
		})
		if err == nil {
			break
		}
		if !db.IsUniqueViolation(err, orderNumberConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		s.logg.Warn(s.logg.WithField(ctx, "order_number", order.OrderNumber), "order number collision, regenerating")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate a unique order number")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_number":  order.OrderNumber,
		"seller_orders": len(order.SellerOrders),
		"total_amount":  order.TotalAmount.StringFixed(2),
	}), "order created")

	return resultFor(order), nil
}

func normalizeInput(input CreateOrderInput) (CreateOrderInput, error) {
	input.CustomerName = strings.TrimSpace(input.CustomerName)
	input.CustomerEmail = strings.ToLower(strings.TrimSpace(input.CustomerEmail))
	input.CustomerPhone = strings.TrimSpace(input.CustomerPhone)
	input.Landmark = strings.TrimSpace(input.Landmark)
	if input.Neighborhood != nil {
		trimmed := strings.TrimSpace(*input.Neighborhood)
		if trimmed == "" {
			input.Neighborhood = nil
		} else {
			input.Neighborhood = &trimmed
		}
	}

	if input.CustomerName == "" || input.CustomerEmail == "" || input.CustomerPhone == "" {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "customer name, email, and phone are required")
	}
	if _, err := mail.ParseAddress(input.CustomerEmail); err != nil {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "customer email is invalid")
	}
	if input.DepartmentID == uuid.Nil || input.ArrondissementID == uuid.Nil || input.CommuneID == uuid.Nil || input.Landmark == "" {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "delivery location details are required")
	}

	if input.DeliveryMethod == "" {
		input.DeliveryMethod = enums.DeliveryMethodDelivery
	}
	if !input.DeliveryMethod.IsValid() {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery method")
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = enums.PaymentMethodMonCash
	}
	if !input.PaymentMethod.IsValid() {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	if len(input.Lines) == 0 {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "cart items are required")
	}
	for _, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return input, pkgerrors.New(pkgerrors.CodeValidation, "cart items must include productId")
		}
		if line.Quantity <= 0 {
			return input, pkgerrors.New(pkgerrors.CodeValidation, "invalid quantity in cart items")
		}
	}
	return input, nil
}

// priceLines resolves every line against the catalog and checks availability. Stock is
// checked against the total requested across lines naming the same product or variant.
func (s *service) priceLines(ctx context.Context, cart []CartLine) ([]pricedLine, error) {
	productIDs := make([]uuid.UUID, 0, len(cart))
	variantIDs := make([]uuid.UUID, 0, len(cart))
	for _, line := range cart {
		productIDs = append(productIDs, line.ProductID)
		if line.VariantID != nil {
			variantIDs = append(variantIDs, *line.VariantID)
		}
	}

	products, err := s.catalog.FindProducts(ctx, uniqueIDs(productIDs))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	variants, err := s.catalog.FindVariants(ctx, uniqueIDs(variantIDs))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product variants")
	}

	demand := map[uuid.UUID]int{}
	lines := make([]pricedLine, 0, len(cart))
	for _, line := range cart {
		product, ok := products[line.ProductID]
		if !ok || !product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product not found for id %s", line.ProductID))
		}

		unitPrice := product.Price
		stock := product.Stock
		stockKey := product.ID
		if line.VariantID != nil {
			variant, ok := variants[*line.VariantID]
			if !ok || variant.ProductID != product.ID {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product variant for cart item")
			}
			if variant.Price != nil {
				unitPrice = *variant.Price
			}
			stock = variant.Stock
			stockKey = variant.ID
		} else if product.HasVariants {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant is required for this product")
		}

		demand[stockKey] += line.Quantity
		if stock != nil && *stock < demand[stockKey] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock for selected product").
				WithDetails(map[string]any{"productId": product.ID, "available": *stock})
		}

		lines = append(lines, pricedLine{
			productID: product.ID,
			variantID: line.VariantID,
			shopID:    product.ShopID,
			quantity:  line.Quantity,
			unitPrice: unitPrice,
			lineTotal: unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}
	return lines, nil
}

// groupByShop splits lines per shop, in first-seen order, and attaches the delivery option.
// A delivery order is rejected whole when any shop cannot reach the commune.
func (s *service) groupByShop(ctx context.Context, lines []pricedLine, input CreateOrderInput) ([]*shopGroup, error) {
	byShop := map[uuid.UUID]*shopGroup{}
	order := make([]uuid.UUID, 0)
	for _, line := range lines {
		group, ok := byShop[line.shopID]
		if !ok {
			group = &shopGroup{}
			byShop[line.shopID] = group
			order = append(order, line.shopID)
		}
		group.lines = append(group.lines, line)
	}

	shops, err := s.catalog.FindShops(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shops")
	}
	if len(shops) != len(order) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "one or more shops could not be resolved for the cart")
	}

	var options map[uuid.UUID]models.DeliveryOption
	if input.DeliveryMethod == enums.DeliveryMethodDelivery {
		options, err = s.catalog.FindActiveDeliveryOptions(ctx, order, input.CommuneID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery options")
		}
	}

	groups := make([]*shopGroup, 0, len(order))
	for _, shopID := range order {
		group := byShop[shopID]
		group.shop = shops[shopID]
		if input.DeliveryMethod == enums.DeliveryMethodDelivery {
			option, ok := options[shopID]
			if !ok {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "one or more sellers do not deliver to the selected commune").
					WithDetails(map[string]any{"shopId": shopID})
			}
			group.option = &option
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func buildOrder(input CreateOrderInput, groups []*shopGroup, now time.Time) *models.Order {
	order := &models.Order{
		ID:               uuid.New(),
		CustomerName:     input.CustomerName,
		CustomerEmail:    input.CustomerEmail,
		CustomerPhone:    input.CustomerPhone,
		DepartmentID:     input.DepartmentID,
		ArrondissementID: input.ArrondissementID,
		CommuneID:        input.CommuneID,
		Neighborhood:     input.Neighborhood,
		Landmark:         input.Landmark,
		PaymentMethod:    input.PaymentMethod,
		Status:           enums.OrderStatusPending,
		TotalAmount:      decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for _, group := range groups {
		subtotal := decimal.Zero
		items := make([]models.OrderItem, 0, len(group.lines))
		for _, line := range group.lines {
			subtotal = subtotal.Add(line.lineTotal)
			items = append(items, models.OrderItem{
				ID:               uuid.New(),
				ProductID:        line.productID,
				ProductVariantID: line.variantID,
				Quantity:         line.quantity,
				UnitPrice:        line.unitPrice,
				TotalPrice:       line.lineTotal,
				CreatedAt:        now,
			})
		}

		fee := decimal.Zero
		var optionID *uuid.UUID
		if group.option != nil {
			fee = group.option.Price
			id := group.option.ID
			optionID = &id
		}

		sellerTotal := subtotal.Add(fee)
		order.SellerOrders = append(order.SellerOrders, models.SellerOrder{
			ID:               uuid.New(),
			OrderID:          order.ID,
			SellerID:         group.shop.SellerID,
			ShopID:           group.shop.ID,
			DeliveryMethod:   input.DeliveryMethod,
			DeliveryOptionID: optionID,
			ItemsSubtotal:    subtotal,
			DeliveryFee:      fee,
			TotalAmount:      sellerTotal,
			Status:           enums.SellerOrderStatusPending,
			Items:            items,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		order.TotalAmount = order.TotalAmount.Add(sellerTotal)
	}
	return order
}

func orderCreatedEvent(order *models.Order) outbox.DomainEvent {
	ids := make([]uuid.UUID, 0, len(order.SellerOrders))
	for _, so := range order.SellerOrders {
		ids = append(ids, so.ID)
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderCreatedEvent{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			TotalAmount:    order.TotalAmount,
			PaymentMethod:  order.PaymentMethod,
			SellerOrderIDs: ids,
		},
	}
}

func resultFor(order *models.Order) *CreateOrderResult {
	summaries := make([]SellerSummary, 0, len(order.SellerOrders))
	for _, so := range order.SellerOrders {
		summaries = append(summaries, SellerSummary{
			SellerOrderID: so.ID,
			ShopID:        so.ShopID,
			SellerID:      so.SellerID,
			ItemsSubtotal: so.ItemsSubtotal,
			DeliveryFee:   so.DeliveryFee,
			Total:         so.TotalAmount,
		})
	}
	return &CreateOrderResult{
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		TotalAmount:     order.TotalAmount,
		PaymentMethod:   order.PaymentMethod,
		SellerSummaries: summaries,
	}
}

// GetOrder is the customer's order detail, reached through the order id they received at
// checkout. It is the only read that carries delivery codes.
func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	dto := NewOrderDTO(order)
	return &dto, nil
}

func (s *service) ListOrdersByEmail(ctx context.Context, email string, params pagination.Params) (*OrderList, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email query parameter is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListOrdersByEmail(ctx, email, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	items := make([]OrderDTO, 0, len(page))
	for i := range page {
		items = append(items, NewOrderDTO(&page[i]).withoutCodes())
	}
	return &OrderList{Items: items, Cursor: next}, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
