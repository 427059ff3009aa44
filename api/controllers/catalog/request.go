package catalog

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"

	internalcatalog "github.com/angelmondragon/membership-portal/internal/catalog"
	"github.com/angelmondragon/membership-portal/pkg/types"
)

type collectionRequest struct {
	Title         string  `json:"title" validate:"required,notblank,max=255"`
	ThemeColorHex *string `json:"themeColorHex,omitempty" validate:"omitempty,hexcolor"`
	Description   string  `json:"description" validate:"max=10000"`
	Archived      bool    `json:"archived"`
}

func (c collectionRequest) toInput() internalcatalog.CollectionInput {
	return internalcatalog.CollectionInput{
		Title:         c.Title,
		ThemeColorHex: c.ThemeColorHex,
		Description:   c.Description,
		Archived:      c.Archived,
	}
}

type editCollectionRequest struct {
	Title         *string `json:"title,omitempty" validate:"omitempty,notblank,max=255"`
	ThemeColorHex *string `json:"themeColorHex,omitempty" validate:"omitempty,hexcolor"`
	Description   *string `json:"description,omitempty" validate:"omitempty,max=10000"`
	Archived      *bool   `json:"archived,omitempty"`
}

func (c editCollectionRequest) toInput() internalcatalog.EditCollectionInput {
	return internalcatalog.EditCollectionInput{
		Title:         c.Title,
		ThemeColorHex: c.ThemeColorHex,
		Description:   c.Description,
		Archived:      c.Archived,
	}
}

type optionRequest struct {
	Quantity           int                  `json:"quantity" validate:"gte=0"`
	Price              int                  `json:"price" validate:"gte=0"`
	DiscountPercentage int                  `json:"discountPercentage" validate:"gte=0,lte=100"`
	Metadata           types.OptionMetadata `json:"metadata"`
}

func (o optionRequest) toInput() internalcatalog.OptionInput {
	return internalcatalog.OptionInput{
		Quantity:           o.Quantity,
		Price:              o.Price,
		DiscountPercentage: o.DiscountPercentage,
		Metadata:           o.Metadata,
	}
}

type editOptionRequest struct {
	Price              *int                  `json:"price,omitempty" validate:"omitempty,gte=0"`
	DiscountPercentage *int                  `json:"discountPercentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Metadata           *types.OptionMetadata `json:"metadata,omitempty"`
}

func (o editOptionRequest) toInput() internalcatalog.EditOptionInput {
	return internalcatalog.EditOptionInput{
		Price:              o.Price,
		DiscountPercentage: o.DiscountPercentage,
		Metadata:           o.Metadata,
	}
}

type itemRequest struct {
	Collection         uuid.UUID       `json:"collection" validate:"required"`
	ItemName           string          `json:"itemName" validate:"required,notblank,max=255"`
	Description        string          `json:"description" validate:"max=10000"`
	Picture            *string         `json:"picture,omitempty" validate:"omitempty,url"`
	Hidden             bool            `json:"hidden"`
	HasVariantsEnabled bool            `json:"hasVariantsEnabled"`
	MonthlyLimit       *int            `json:"monthlyLimit,omitempty" validate:"omitempty,gte=0"`
	LifetimeLimit      *int            `json:"lifetimeLimit,omitempty" validate:"omitempty,gte=0"`
	Options            []optionRequest `json:"options" validate:"required,min=1,dive"`
}

func (i itemRequest) toInput() internalcatalog.ItemInput {
	options := make([]internalcatalog.OptionInput, 0, len(i.Options))
	for _, option := range i.Options {
		options = append(options, option.toInput())
	}
	return internalcatalog.ItemInput{
		CollectionID:       i.Collection,
		ItemName:           i.ItemName,
		Description:        i.Description,
		Picture:            i.Picture,
		Hidden:             i.Hidden,
		HasVariantsEnabled: i.HasVariantsEnabled,
		MonthlyLimit:       i.MonthlyLimit,
		LifetimeLimit:      i.LifetimeLimit,
		Options:            options,
	}
}

// nullableInt tells an absent field apart from an explicit null.
type nullableInt struct {
	Set   bool
	Value *int
}

func (n *nullableInt) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

func (n nullableInt) limit() internalcatalog.OptionalLimit {
	return internalcatalog.OptionalLimit{Set: n.Set, Value: n.Value}
}

type editItemRequest struct {
	Collection         *uuid.UUID  `json:"collection,omitempty"`
	ItemName           *string     `json:"itemName,omitempty" validate:"omitempty,notblank,max=255"`
	Description        *string     `json:"description,omitempty" validate:"omitempty,max=10000"`
	Picture            *string     `json:"picture,omitempty" validate:"omitempty,url"`
	Hidden             *bool       `json:"hidden,omitempty"`
	HasVariantsEnabled *bool       `json:"hasVariantsEnabled,omitempty"`
	MonthlyLimit       nullableInt `json:"monthlyLimit"`
	LifetimeLimit      nullableInt `json:"lifetimeLimit"`
}

func (i editItemRequest) toInput() internalcatalog.EditItemInput {
	return internalcatalog.EditItemInput{
		CollectionID:       i.Collection,
		ItemName:           i.ItemName,
		Description:        i.Description,
		Picture:            i.Picture,
		Hidden:             i.Hidden,
		HasVariantsEnabled: i.HasVariantsEnabled,
		MonthlyLimit:       i.MonthlyLimit.limit(),
		LifetimeLimit:      i.LifetimeLimit.limit(),
	}
}

type restockRequest struct {
	Delta int `json:"delta" validate:"required"`
}
