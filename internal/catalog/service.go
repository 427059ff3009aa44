package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/payloads"
	"github.com/angelmondragon/membership-portal/pkg/types"
	"github.com/angelmondragon/membership-portal/pkg/visibility"
)

// Service exposes catalog reads for members and catalog management for admins.
type Service interface {
	ListCollections(ctx context.Context, canSeeHidden bool) ([]CollectionDTO, error)
	GetCollection(ctx context.Context, id uuid.UUID, canSeeHidden bool) (*CollectionDTO, error)
	CreateCollection(ctx context.Context, input CollectionInput) (*CollectionDTO, error)
	EditCollection(ctx context.Context, id uuid.UUID, input EditCollectionInput) (*CollectionDTO, error)
	DeleteCollection(ctx context.Context, id uuid.UUID) error

	GetItem(ctx context.Context, id uuid.UUID, canSeeHidden bool) (*ItemDTO, error)
	CreateItem(ctx context.Context, input ItemInput) (*ItemDTO, error)
	EditItem(ctx context.Context, id uuid.UUID, input EditItemInput) (*ItemDTO, error)
	DeleteItem(ctx context.Context, id uuid.UUID) error

	CreateOption(ctx context.Context, itemID uuid.UUID, input OptionInput) (*OptionDTO, error)
	EditOption(ctx context.Context, id uuid.UUID, input EditOptionInput) (*OptionDTO, error)
	DeleteOption(ctx context.Context, id uuid.UUID) error
	Restock(ctx context.Context, optionID uuid.UUID, delta int) (*OptionDTO, error)
}

// CollectionInput holds the validated payload to create a collection.
type CollectionInput struct {
	Title         string
	ThemeColorHex *string
	Description   string
	Archived      bool
}

// EditCollectionInput holds optional collection mutations.
type EditCollectionInput struct {
	Title         *string
	ThemeColorHex *string
	Description   *string
	Archived      *bool
}

// ItemInput holds the validated payload to create an item with its options.
type ItemInput struct {
	CollectionID       uuid.UUID
	ItemName           string
	Description        string
	Picture            *string
	Hidden             bool
	HasVariantsEnabled bool
	MonthlyLimit       *int
	LifetimeLimit      *int
	Options            []OptionInput
}

// OptionalLimit distinguishes "leave unchanged" from "set to unlimited".
type OptionalLimit struct {
	Set   bool
	Value *int
}

// EditItemInput holds optional item mutations.
type EditItemInput struct {
	CollectionID       *uuid.UUID
	ItemName           *string
	Description        *string
	Picture            *string
	Hidden             *bool
	HasVariantsEnabled *bool
	MonthlyLimit       OptionalLimit
	LifetimeLimit      OptionalLimit
}

// OptionInput creates an option; Quantity is the opening stock.
type OptionInput struct {
	Quantity           int
	Price              int
	DiscountPercentage int
	Metadata           types.OptionMetadata
}

// EditOptionInput changes pricing or presentation. Stock moves through Restock.
type EditOptionInput struct {
	Price              *int
	DiscountPercentage *int
	Metadata           *types.OptionMetadata
}

// ServiceParams wires the catalog service.
type ServiceParams struct {
	Repository Repository
	DB         *db.Client
	Outbox     outbox.Emitter
	Logger     *logger.Logger
}

type service struct {
	repo   Repository
	db     *db.Client
	outbox outbox.Emitter
	logg   *logger.Logger
	reads  singleflight.Group
	now    func() time.Time
}

// NewService constructs a catalog service instance.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:   params.Repository,
		db:     params.DB,
		outbox: params.Outbox,
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// ListCollections collapses concurrent identical reads into one query.
func (s *service) ListCollections(ctx context.Context, canSeeHidden bool) ([]CollectionDTO, error) {
	key := fmt.Sprintf("collections:hidden=%t", canSeeHidden)
	v, err, _ := s.reads.Do(key, func() (interface{}, error) {
		return s.listCollections(ctx, canSeeHidden)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]CollectionDTO)
	return append([]CollectionDTO(nil), shared...), nil
}

func (s *service) listCollections(ctx context.Context, canSeeHidden bool) ([]CollectionDTO, error) {
	rows, err := s.repo.ListCollections(ctx, canSeeHidden)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list collections")
	}
	viewer := visibility.Viewer{CanSeeHidden: canSeeHidden}
	out := make([]CollectionDTO, 0, len(rows))
	for i := range rows {
		if !visibility.CollectionVisible(viewer, &rows[i]) {
			continue
		}
		out = append(out, NewCollectionDTO(&rows[i], visibility.FilterItems(viewer, &rows[i], rows[i].Items)))
	}
	return out, nil
}

func (s *service) GetCollection(ctx context.Context, id uuid.UUID, canSeeHidden bool) (*CollectionDTO, error) {
	collection, err := s.loadCollection(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	viewer := visibility.Viewer{CanSeeHidden: canSeeHidden}
	if !visibility.CollectionVisible(viewer, collection) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "collection not found")
	}
	dto := NewCollectionDTO(collection, visibility.FilterItems(viewer, collection, collection.Items))
	return &dto, nil
}

func (s *service) CreateCollection(ctx context.Context, input CollectionInput) (*CollectionDTO, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	collection := &models.MerchCollection{
		Title:         title,
		ThemeColorHex: input.ThemeColorHex,
		Description:   strings.TrimSpace(input.Description),
		Archived:      input.Archived,
		CreatedAt:     s.now(),
		UpdatedAt:     s.now(),
	}
	if err := s.repo.CreateCollection(ctx, collection); err != nil {
		return nil, pkgerrors.WrapDB(err, "db: insert collection")
	}
	s.forgetReads()
	dto := NewCollectionDTO(collection, nil)
	return &dto, nil
}

func (s *service) EditCollection(ctx context.Context, id uuid.UUID, input EditCollectionInput) (*CollectionDTO, error) {
	collection, err := s.loadCollection(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title must not be empty")
		}
		collection.Title = title
	}
	if input.ThemeColorHex != nil {
		collection.ThemeColorHex = input.ThemeColorHex
	}
	if input.Description != nil {
		collection.Description = strings.TrimSpace(*input.Description)
	}
	if input.Archived != nil {
		collection.Archived = *input.Archived
	}
	collection.UpdatedAt = s.now()
	if err := s.repo.UpdateCollection(ctx, collection); err != nil {
		return nil, pkgerrors.WrapDB(err, "db: update collection")
	}
	s.forgetReads()
	dto := NewCollectionDTO(collection, collection.Items)
	return &dto, nil
}

// DeleteCollection removes a collection that was never ordered from.
func (s *service) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.loadCollection(ctx, repo, id); err != nil {
			return err
		}
		ordered, err := repo.HasBeenOrderedCollection(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check collection orders")
		}
		if ordered {
			return pkgerrors.New(pkgerrors.CodeConflict, "collection has been ordered from; archive it instead")
		}
		if err := repo.DeleteCollection(ctx, id); err != nil {
			return pkgerrors.WrapDB(err, "db: delete collection")
		}
		return nil
	})
	if err != nil {
		return asTyped(err, "delete collection")
	}
	s.forgetReads()
	return nil
}

func (s *service) GetItem(ctx context.Context, id uuid.UUID, canSeeHidden bool) (*ItemDTO, error) {
	item, err := s.loadItem(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	collection, err := s.loadCollection(ctx, s.repo, item.CollectionID)
	if err != nil {
		return nil, err
	}
	if err := visibility.EnsureItemVisible(visibility.Viewer{CanSeeHidden: canSeeHidden}, collection, item); err != nil {
		return nil, err
	}
	dto := NewItemDTO(item)
	return &dto, nil
}

func (s *service) CreateItem(ctx context.Context, input ItemInput) (*ItemDTO, error) {
	name := strings.TrimSpace(input.ItemName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "itemName is required")
	}
	if len(input.Options) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "an item needs at least one option")
	}
	if !input.HasVariantsEnabled && len(input.Options) > 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "items without variants carry exactly one option")
	}
	if err := validateLimits(input.MonthlyLimit, input.LifetimeLimit); err != nil {
		return nil, err
	}
	for _, option := range input.Options {
		if option.Quantity < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
		}
		if err := validatePricing(option.Price, option.DiscountPercentage); err != nil {
			return nil, err
		}
	}

	now := s.now()
	item := &models.MerchItem{
		CollectionID:       input.CollectionID,
		ItemName:           name,
		Description:        strings.TrimSpace(input.Description),
		Picture:            input.Picture,
		Hidden:             input.Hidden,
		HasVariantsEnabled: input.HasVariantsEnabled,
		MonthlyLimit:       input.MonthlyLimit,
		LifetimeLimit:      input.LifetimeLimit,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, option := range input.Options {
		item.Options = append(item.Options, models.MerchItemOption{
			Quantity:           option.Quantity,
			Price:              option.Price,
			DiscountPercentage: option.DiscountPercentage,
			Metadata:           option.Metadata,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.loadCollection(ctx, repo, input.CollectionID); err != nil {
			return err
		}
		if err := repo.CreateItem(ctx, item); err != nil {
			return pkgerrors.WrapDB(err, "db: insert item")
		}
		return nil
	})
	if err != nil {
		return nil, asTyped(err, "create item")
	}
	s.forgetReads()
	dto := NewItemDTO(item)
	return &dto, nil
}

func (s *service) EditItem(ctx context.Context, id uuid.UUID, input EditItemInput) (*ItemDTO, error) {
	var updated *models.MerchItem
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := s.loadItem(ctx, repo, id)
		if err != nil {
			return err
		}
		if input.CollectionID != nil && *input.CollectionID != item.CollectionID {
			if _, err := s.loadCollection(ctx, repo, *input.CollectionID); err != nil {
				return err
			}
			item.CollectionID = *input.CollectionID
		}
		if input.ItemName != nil {
			name := strings.TrimSpace(*input.ItemName)
			if name == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "itemName must not be empty")
			}
			item.ItemName = name
		}
		if input.Description != nil {
			item.Description = strings.TrimSpace(*input.Description)
		}
		if input.Picture != nil {
			item.Picture = input.Picture
		}
		if input.Hidden != nil {
			item.Hidden = *input.Hidden
		}
		if input.HasVariantsEnabled != nil {
			if !*input.HasVariantsEnabled && len(item.Options) > 1 {
				return pkgerrors.New(pkgerrors.CodeConflict, "item has several options; delete extras before disabling variants")
			}
			item.HasVariantsEnabled = *input.HasVariantsEnabled
		}
		if input.MonthlyLimit.Set {
			item.MonthlyLimit = input.MonthlyLimit.Value
		}
		if input.LifetimeLimit.Set {
			item.LifetimeLimit = input.LifetimeLimit.Value
		}
		if err := validateLimits(item.MonthlyLimit, item.LifetimeLimit); err != nil {
			return err
		}
		item.UpdatedAt = s.now()
		if err := repo.UpdateItem(ctx, item); err != nil {
			return pkgerrors.WrapDB(err, "db: update item")
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, asTyped(err, "edit item")
	}
	s.forgetReads()
	dto := NewItemDTO(updated)
	return &dto, nil
}

func (s *service) DeleteItem(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.loadItem(ctx, repo, id); err != nil {
			return err
		}
		if _, err := repo.LockOptionsByItem(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock item options")
		}
		ordered, err := repo.HasBeenOrderedItem(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check item orders")
		}
		if ordered {
			return pkgerrors.New(pkgerrors.CodeConflict, "item has been ordered; hide it instead")
		}
		if err := repo.DeleteItem(ctx, id); err != nil {
			return pkgerrors.WrapDB(err, "db: delete item")
		}
		return nil
	})
	if err != nil {
		return asTyped(err, "delete item")
	}
	s.forgetReads()
	return nil
}

func (s *service) CreateOption(ctx context.Context, itemID uuid.UUID, input OptionInput) (*OptionDTO, error) {
	if input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if err := validatePricing(input.Price, input.DiscountPercentage); err != nil {
		return nil, err
	}
	now := s.now()
	option := &models.MerchItemOption{
		ItemID:             itemID,
		Quantity:           input.Quantity,
		Price:              input.Price,
		DiscountPercentage: input.DiscountPercentage,
		Metadata:           input.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := s.loadItem(ctx, repo, itemID)
		if err != nil {
			return err
		}
		if !item.HasVariantsEnabled && len(item.Options) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "variants are disabled for this item")
		}
		if err := repo.CreateOption(ctx, option); err != nil {
			return pkgerrors.WrapDB(err, "db: insert option")
		}
		return nil
	})
	if err != nil {
		return nil, asTyped(err, "create option")
	}
	s.forgetReads()
	dto := NewOptionDTO(option)
	return &dto, nil
}

// EditOption changes pricing for future purchases; placed orders keep their snapshot.
func (s *service) EditOption(ctx context.Context, id uuid.UUID, input EditOptionInput) (*OptionDTO, error) {
	var updated *models.MerchItemOption
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		option, err := s.lockOption(ctx, repo, id)
		if err != nil {
			return err
		}
		if input.Price != nil {
			option.Price = *input.Price
		}
		if input.DiscountPercentage != nil {
			option.DiscountPercentage = *input.DiscountPercentage
		}
		if input.Metadata != nil {
			option.Metadata = *input.Metadata
		}
		if err := validatePricing(option.Price, option.DiscountPercentage); err != nil {
			return err
		}
		option.UpdatedAt = s.now()
		if err := repo.UpdateOption(ctx, option); err != nil {
			return pkgerrors.WrapDB(err, "db: update option")
		}
		updated = option
		return nil
	})
	if err != nil {
		return nil, asTyped(err, "edit option")
	}
	s.forgetReads()
	dto := NewOptionDTO(updated)
	return &dto, nil
}

func (s *service) DeleteOption(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		option, err := s.lockOption(ctx, repo, id)
		if err != nil {
			return err
		}
		ordered, err := repo.HasBeenOrderedOption(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check option orders")
		}
		if ordered {
			return pkgerrors.New(pkgerrors.CodeConflict, "option has been ordered and cannot be deleted")
		}
		remaining, err := repo.CountOptions(ctx, option.ItemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count options")
		}
		if remaining <= 1 {
			return pkgerrors.New(pkgerrors.CodeConflict, "an item needs at least one option; delete the item instead")
		}
		if err := repo.DeleteOption(ctx, id); err != nil {
			return pkgerrors.WrapDB(err, "db: delete option")
		}
		return nil
	})
	if err != nil {
		return asTyped(err, "delete option")
	}
	s.forgetReads()
	return nil
}

// Restock moves stock by delta and records the adjustment as a domain event.
func (s *service) Restock(ctx context.Context, optionID uuid.UUID, delta int) (*OptionDTO, error) {
	if delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must not be zero")
	}
	var restocked *models.MerchItemOption
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		ok, err := repo.AdjustQuantity(ctx, optionID, delta, now)
		if err != nil {
			return pkgerrors.WrapDB(err, "db: adjust quantity")
		}
		option, err := s.loadOption(ctx, repo, optionID)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("restock would leave %d units", option.Quantity+delta)).
				WithDetails(map[string]any{"quantity": option.Quantity, "delta": delta})
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOptionRestocked,
			AggregateType: enums.AggregateItemOption,
			AggregateID:   option.ID,
			OccurredAt:    now,
			Data: payloads.OptionRestockedEvent{
				OptionID:    option.ID,
				ItemID:      option.ItemID,
				Delta:       delta,
				Quantity:    option.Quantity,
				RestockedAt: now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit restock event")
		}
		restocked = option
		return nil
	})
	if err != nil {
		return nil, asTyped(err, "restock option")
	}
	s.forgetReads()
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"option_id": optionID.String(),
		"delta":     delta,
		"quantity":  restocked.Quantity,
	}), "option restocked")
	dto := NewOptionDTO(restocked)
	return &dto, nil
}

// forgetReads drops in-flight shared list results so the next read observes the write.
func (s *service) forgetReads() {
	s.reads.Forget("collections:hidden=true")
	s.reads.Forget("collections:hidden=false")
}

func (s *service) loadCollection(ctx context.Context, repo Repository, id uuid.UUID) (*models.MerchCollection, error) {
	collection, err := repo.GetCollection(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "collection not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load collection")
	}
	return collection, nil
}

func (s *service) loadItem(ctx context.Context, repo Repository, id uuid.UUID) (*models.MerchItem, error) {
	item, err := repo.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load item")
	}
	return item, nil
}

func (s *service) loadOption(ctx context.Context, repo Repository, id uuid.UUID) (*models.MerchItemOption, error) {
	option, err := repo.GetOption(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "option not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load option")
	}
	return option, nil
}

func (s *service) lockOption(ctx context.Context, repo Repository, id uuid.UUID) (*models.MerchItemOption, error) {
	option, err := repo.LockOption(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "option not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock option")
	}
	return option, nil
}

func validatePricing(price, discount int) error {
	if price < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if discount < 0 || discount > 100 {
		return pkgerrors.New(pkgerrors.CodeValidation, "discountPercentage must be between 0 and 100")
	}
	return nil
}

func validateLimits(monthly, lifetime *int) error {
	if monthly != nil && *monthly < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "monthlyLimit must not be negative")
	}
	if lifetime != nil && *lifetime < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "lifetimeLimit must not be negative")
	}
	return nil
}

func asTyped(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
