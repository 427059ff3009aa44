package checkout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/pkg/checkout"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

type snapshotBuilder struct {
	snapshot   Snapshot
	collection models.MerchCollection
}

func newSnapshot(credits int) *snapshotBuilder {
	return &snapshotBuilder{
		snapshot: Snapshot{
			Credits:   credits,
			Options:   map[uuid.UUID]OptionState{},
			Purchases: map[uuid.UUID]PurchaseCounts{},
		},
		collection: models.MerchCollection{ID: uuid.New(), Title: "Spring"},
	}
}

func (b *snapshotBuilder) item(name string, monthly, lifetime *int) models.MerchItem {
	return models.MerchItem{
		ID:            uuid.New(),
		CollectionID:  b.collection.ID,
		ItemName:      name,
		MonthlyLimit:  monthly,
		LifetimeLimit: lifetime,
	}
}

func (b *snapshotBuilder) option(item models.MerchItem, price, discount, quantity int) uuid.UUID {
	option := models.MerchItemOption{
		ID:                 uuid.New(),
		ItemID:             item.ID,
		Price:              price,
		DiscountPercentage: discount,
		Quantity:           quantity,
	}
	b.snapshot.Options[option.ID] = OptionState{Option: option, Item: item, Collection: b.collection}
	return option.ID
}

func intPtr(v int) *int { return &v }

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, pkgerrors.CodeUserError, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	reason, _ := details["reason"].(string)
	return reason
}

func TestCheckPricesDiscountedUnits(t *testing.T) {
	b := newSnapshot(5000)
	hoodie := b.item("Hoodie", nil, nil)
	optionID := b.option(hoodie, 1000, 10, 5)

	quote, err := Check(b.snapshot, []checkout.BasketLine{{OptionID: optionID, Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, quote.Lines, 1)
	assert.Equal(t, 900, quote.Lines[0].UnitPrice)
	assert.Equal(t, 1800, quote.Lines[0].LineTotal)
	assert.Equal(t, 1800, quote.Total)
}

func TestCheckAcceptsExactBalance(t *testing.T) {
	b := newSnapshot(1000)
	tee := b.item("Tee", nil, nil)
	optionID := b.option(tee, 500, 0, 10)

	quote, err := Check(b.snapshot, []checkout.BasketLine{{OptionID: optionID, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 1000, quote.Total)
}

func TestCheckRejections(t *testing.T) {
	cases := []struct {
		name   string
		build  func(b *snapshotBuilder) []checkout.BasketLine
		code   pkgerrors.Code
		reason string
	}{
		{
			name: "unknown option",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				return []checkout.BasketLine{{OptionID: uuid.New(), Quantity: 1}}
			},
			code: pkgerrors.CodeNotFound,
		},
		{
			name: "duplicate option",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				id := b.option(b.item("Cap", nil, nil), 100, 0, 5)
				return []checkout.BasketLine{{OptionID: id, Quantity: 1}, {OptionID: id, Quantity: 1}}
			},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "hidden item",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				item := b.item("Secret", nil, nil)
				item.Hidden = true
				return []checkout.BasketLine{{OptionID: b.option(item, 100, 0, 5), Quantity: 1}}
			},
			code:   pkgerrors.CodeUserError,
			reason: ReasonItemUnavailable,
		},
		{
			name: "monthly limit counts held units",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				item := b.item("Mug", intPtr(1), nil)
				b.snapshot.Purchases[item.ID] = PurchaseCounts{Window: 1, Lifetime: 1}
				return []checkout.BasketLine{{OptionID: b.option(item, 100, 0, 5), Quantity: 1}}
			},
			code:   pkgerrors.CodeUserError,
			reason: ReasonMonthlyLimit,
		},
		{
			name: "lifetime limit sums options of one item",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				item := b.item("Jacket", nil, intPtr(2))
				small := b.option(item, 100, 0, 5)
				large := b.option(item, 100, 0, 5)
				return []checkout.BasketLine{{OptionID: small, Quantity: 2}, {OptionID: large, Quantity: 1}}
			},
			code:   pkgerrors.CodeUserError,
			reason: ReasonLifetimeLimit,
		},
		{
			name: "stock",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				return []checkout.BasketLine{{OptionID: b.option(b.item("Pin", nil, nil), 10, 0, 1), Quantity: 2}}
			},
			code:   pkgerrors.CodeUserError,
			reason: ReasonOutOfStock,
		},
		{
			name: "credits",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				return []checkout.BasketLine{{OptionID: b.option(b.item("Bag", nil, nil), 20000, 0, 5), Quantity: 1}}
			},
			code:   pkgerrors.CodeUserError,
			reason: ledger.ReasonInsufficientCredits,
		},
		{
			name: "limit reported before stock and credits",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				item := b.item("Poster", intPtr(1), nil)
				return []checkout.BasketLine{{OptionID: b.option(item, 99999, 0, 0), Quantity: 3}}
			},
			code:   pkgerrors.CodeUserError,
			reason: ReasonMonthlyLimit,
		},
		{
			name: "stock reported before credits",
			build: func(b *snapshotBuilder) []checkout.BasketLine {
				return []checkout.BasketLine{{OptionID: b.option(b.item("Scarf", nil, nil), 99999, 0, 0), Quantity: 1}}
			},
			code:   pkgerrors.CodeUserError,
			reason: ReasonOutOfStock,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newSnapshot(1000)
			_, err := Check(b.snapshot, tc.build(b))
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, reasonOf(t, err))
			}
		})
	}
}

func TestCheckCreditsDetails(t *testing.T) {
	b := newSnapshot(100)
	optionID := b.option(b.item("Bottle", nil, nil), 150, 0, 3)

	_, err := Check(b.snapshot, []checkout.BasketLine{{OptionID: optionID, Quantity: 1}})
	require.Error(t, err)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 150, details["required"])
	assert.Equal(t, 100, details["balance"])
}
