// Package storetest provides a file-backed SQLite database mirroring the store
// schema for package tests.
package storetest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/types"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
  role TEXT NOT NULL DEFAULT 'member',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE merch_collections (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  theme_color_hex TEXT,
  description TEXT NOT NULL DEFAULT '',
  archived INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE merch_items (
  id TEXT PRIMARY KEY,
  collection_id TEXT NOT NULL,
  item_name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  picture TEXT,
  hidden INTEGER NOT NULL DEFAULT 0,
  has_variants_enabled INTEGER NOT NULL DEFAULT 0,
  monthly_limit INTEGER,
  lifetime_limit INTEGER,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE merch_item_options (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
  price INTEGER NOT NULL CHECK (price >= 0),
  discount_percentage INTEGER NOT NULL DEFAULT 0 CHECK (discount_percentage BETWEEN 0 AND 100),
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE order_pickup_events (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  start_at DATETIME NOT NULL,
  end_at DATETIME NOT NULL,
  order_limit INTEGER NOT NULL CHECK (order_limit >= 1),
  status TEXT NOT NULL DEFAULT 'ACTIVE',
  linked_event_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  total_cost INTEGER NOT NULL,
  status TEXT NOT NULL,
  ordered_at DATETIME NOT NULL,
  pickup_event_id TEXT,
  updated_at DATETIME
);`,
	`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  option_id TEXT NOT NULL,
  sale_price_at_purchase INTEGER NOT NULL,
  discount_percentage_at_purchase INTEGER NOT NULL,
  fulfilled INTEGER NOT NULL DEFAULT 0,
  fulfilled_at DATETIME,
  notes TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE credit_ledger_events (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  order_id TEXT,
  type TEXT NOT NULL,
  amount INTEGER NOT NULL,
  balance_after INTEGER NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE activities (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  description TEXT NOT NULL,
  points_earned INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// OpenDB returns a fresh database with the store schema. Writers take the
// database lock at BEGIN so concurrent transactions serialize like row locks.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db") + "?_busy_timeout=10000&_txlock=immediate&_foreign_keys=off"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// SeedUser inserts a member with the given credit balance.
func SeedUser(t *testing.T, db *gorm.DB, credits int) *models.User {
	t.Helper()
	id := uuid.New()
	user := &models.User{
		ID:        id,
		Email:     id.String() + "@members.test",
		FirstName: "Test",
		LastName:  "Member",
		Credits:   credits,
		Role:      enums.UserRoleMember,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedCollection inserts a visible collection.
func SeedCollection(t *testing.T, db *gorm.DB, title string) *models.MerchCollection {
	t.Helper()
	collection := &models.MerchCollection{ID: uuid.New(), Title: title, Description: title}
	require.NoError(t, db.Create(collection).Error)
	return collection
}

// ItemSpec describes an item seeded with a single option.
type ItemSpec struct {
	Name          string
	Hidden        bool
	MonthlyLimit  *int
	LifetimeLimit *int
	Price         int
	Discount      int
	Quantity      int
}

// SeedItem inserts an item under collectionID and returns it with its option.
func SeedItem(t *testing.T, db *gorm.DB, collectionID uuid.UUID, spec ItemSpec) (*models.MerchItem, *models.MerchItemOption) {
	t.Helper()
	item := &models.MerchItem{
		ID:            uuid.New(),
		CollectionID:  collectionID,
		ItemName:      spec.Name,
		Description:   spec.Name,
		Hidden:        spec.Hidden,
		MonthlyLimit:  spec.MonthlyLimit,
		LifetimeLimit: spec.LifetimeLimit,
	}
	require.NoError(t, db.Create(item).Error)
	option := SeedOption(t, db, item.ID, spec.Price, spec.Discount, spec.Quantity)
	return item, option
}

// SeedOption inserts an additional option on itemID.
func SeedOption(t *testing.T, db *gorm.DB, itemID uuid.UUID, price, discount, quantity int) *models.MerchItemOption {
	t.Helper()
	option := &models.MerchItemOption{
		ID:                 uuid.New(),
		ItemID:             itemID,
		Quantity:           quantity,
		Price:              price,
		DiscountPercentage: discount,
		Metadata:           types.OptionMetadata{Type: "SIZE", Label: "ONE"},
	}
	require.NoError(t, db.Create(option).Error)
	return option
}

// SeedPickupEvent inserts an ACTIVE pickup window.
func SeedPickupEvent(t *testing.T, db *gorm.DB, start, end time.Time, orderLimit int) *models.OrderPickupEvent {
	t.Helper()
	event := &models.OrderPickupEvent{
		ID:          uuid.New(),
		Title:       "Pickup",
		Description: "Front desk",
		Start:       start.UTC(),
		End:         end.UTC(),
		OrderLimit:  orderLimit,
		Status:      enums.PickupEventStatusActive,
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

// Credits reloads a user's balance.
func Credits(t *testing.T, db *gorm.DB, userID uuid.UUID) int {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, "id = ?", userID).Error)
	return user.Credits
}

// Stock reloads an option's quantity.
func Stock(t *testing.T, db *gorm.DB, optionID uuid.UUID) int {
	t.Helper()
	var option models.MerchItemOption
	require.NoError(t, db.First(&option, "id = ?", optionID).Error)
	return option.Quantity
}

// Count returns the number of rows in model's table matching the optional condition.
func Count(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	tx := db.Model(model)
	if query != "" {
		tx = tx.Where(query, args...)
	}
	require.NoError(t, tx.Count(&count).Error)
	return count
}

// IntPtr is shorthand for optional limits.
func IntPtr(v int) *int {
	return &v
}
