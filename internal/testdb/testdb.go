// Package testdb opens isolated in-memory sqlite databases carrying the marketplace schema.
package testdb

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Schema mirrors the goose migrations closely enough for repository and service tests.
var Schema = []string{
	`CREATE TABLE shops (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  name TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1
);`,
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price TEXT NOT NULL,
  stock INTEGER,
  has_variants INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1
);`,
	`CREATE TABLE product_variants (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price TEXT,
  stock INTEGER
);`,
	`CREATE TABLE delivery_options (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL,
  commune_id TEXT NOT NULL,
  price TEXT NOT NULL,
  estimated_days INTEGER,
  is_active INTEGER NOT NULL DEFAULT 1
);`,
	`CREATE TABLE kyc_documents (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  status TEXT NOT NULL,
  payout_method TEXT,
  payout_account_number TEXT,
  payout_account_name TEXT,
  submitted_at DATETIME NOT NULL
);`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  customer_email TEXT NOT NULL,
  customer_phone TEXT NOT NULL,
  department_id TEXT NOT NULL,
  arrondissement_id TEXT NOT NULL,
  commune_id TEXT NOT NULL,
  neighborhood TEXT,
  landmark TEXT NOT NULL,
  payment_method TEXT NOT NULL DEFAULT 'moncash',
  total_amount TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  paid_at DATETIME,
  cancelled_at DATETIME,
  transaction_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_orders_order_number ON orders (order_number);`,
	`CREATE UNIQUE INDEX ux_orders_transaction_id ON orders (transaction_id) WHERE transaction_id IS NOT NULL;`,
	`CREATE TABLE seller_orders (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  shop_id TEXT NOT NULL,
  delivery_method TEXT NOT NULL DEFAULT 'delivery',
  delivery_option_id TEXT,
  items_subtotal TEXT NOT NULL,
  delivery_fee TEXT NOT NULL,
  total_amount TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  delivery_code TEXT,
  delivery_code_attempts INTEGER NOT NULL DEFAULT 0,
  confirmed_at DATETIME,
  shipped_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_seller_orders_order_delivery_code ON seller_orders (order_id, delivery_code) WHERE delivery_code IS NOT NULL;`,
	`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  seller_order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_variant_id TEXT,
  quantity INTEGER NOT NULL,
  unit_price TEXT NOT NULL,
  total_price TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE order_status_log (
  id TEXT PRIMARY KEY,
  seller_order_id TEXT NOT NULL,
  previous_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  changed_by TEXT NOT NULL,
  attempted_code TEXT,
  success INTEGER NOT NULL,
  note TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE payouts (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  amount TEXT NOT NULL,
  method TEXT NOT NULL,
  account_number TEXT NOT NULL,
  account_name TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  requested_at DATETIME NOT NULL,
  processed_at DATETIME,
  transaction_id TEXT
);`,
	`CREATE TABLE balance_transactions (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount TEXT NOT NULL,
  reference_id TEXT,
  description TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
}

// Open returns a fresh in-memory database private to the test, with Schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}
