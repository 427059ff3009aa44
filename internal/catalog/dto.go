package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/pricing"
	"github.com/angelmondragon/membership-portal/pkg/types"
)

// CollectionDTO is the catalog collection payload returned to clients.
type CollectionDTO struct {
	ID            uuid.UUID `json:"uuid"`
	Title         string    `json:"title"`
	ThemeColorHex *string   `json:"themeColorHex,omitempty"`
	Description   string    `json:"description"`
	Archived      bool      `json:"archived"`
	Items         []ItemDTO `json:"items"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ItemDTO is a merchandise item with its options.
type ItemDTO struct {
	ID                 uuid.UUID   `json:"uuid"`
	CollectionID       uuid.UUID   `json:"collection"`
	ItemName           string      `json:"itemName"`
	Description        string      `json:"description"`
	Picture            *string     `json:"picture,omitempty"`
	Hidden             bool        `json:"hidden"`
	HasVariantsEnabled bool        `json:"hasVariantsEnabled"`
	MonthlyLimit       *int        `json:"monthlyLimit"`
	LifetimeLimit      *int        `json:"lifetimeLimit"`
	Options            []OptionDTO `json:"options"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// OptionDTO exposes an option's price, stock and effective price.
type OptionDTO struct {
	ID                 uuid.UUID            `json:"uuid"`
	ItemID             uuid.UUID            `json:"item"`
	Quantity           int                  `json:"quantity"`
	Price              int                  `json:"price"`
	DiscountPercentage int                  `json:"discountPercentage"`
	EffectivePrice     int                  `json:"effectivePrice"`
	Metadata           types.OptionMetadata `json:"metadata"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// NewCollectionDTO builds a DTO from the collection and the items the caller may see.
func NewCollectionDTO(collection *models.MerchCollection, items []models.MerchItem) CollectionDTO {
	dto := CollectionDTO{
		ID:            collection.ID,
		Title:         collection.Title,
		ThemeColorHex: collection.ThemeColorHex,
		Description:   collection.Description,
		Archived:      collection.Archived,
		Items:         make([]ItemDTO, 0, len(items)),
		CreatedAt:     collection.CreatedAt,
		UpdatedAt:     collection.UpdatedAt,
	}
	for i := range items {
		dto.Items = append(dto.Items, NewItemDTO(&items[i]))
	}
	return dto
}

// NewItemDTO builds an item DTO including its options.
func NewItemDTO(item *models.MerchItem) ItemDTO {
	dto := ItemDTO{
		ID:                 item.ID,
		CollectionID:       item.CollectionID,
		ItemName:           item.ItemName,
		Description:        item.Description,
		Picture:            item.Picture,
		Hidden:             item.Hidden,
		HasVariantsEnabled: item.HasVariantsEnabled,
		MonthlyLimit:       item.MonthlyLimit,
		LifetimeLimit:      item.LifetimeLimit,
		Options:            make([]OptionDTO, 0, len(item.Options)),
		CreatedAt:          item.CreatedAt,
		UpdatedAt:          item.UpdatedAt,
	}
	for i := range item.Options {
		dto.Options = append(dto.Options, NewOptionDTO(&item.Options[i]))
	}
	return dto
}

// NewOptionDTO builds an option DTO.
func NewOptionDTO(option *models.MerchItemOption) OptionDTO {
	return OptionDTO{
		ID:                 option.ID,
		ItemID:             option.ItemID,
		Quantity:           option.Quantity,
		Price:              option.Price,
		DiscountPercentage: option.DiscountPercentage,
		EffectivePrice:     pricing.EffectivePrice(option.Price, option.DiscountPercentage),
		Metadata:           option.Metadata,
		CreatedAt:          option.CreatedAt,
		UpdatedAt:          option.UpdatedAt,
	}
}
