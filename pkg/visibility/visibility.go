package visibility

import (
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

// Viewer distinguishes admins, who see the whole catalog, from members and
// anonymous visitors.
type Viewer struct {
	CanSeeHidden bool
}

// CollectionVisible reports whether the collection is listed for the viewer.
func CollectionVisible(viewer Viewer, collection *models.MerchCollection) bool {
	if collection == nil {
		return false
	}
	return viewer.CanSeeHidden || !collection.Archived
}

// ItemVisible reports whether the item is shown to the viewer. Items inherit
// their collection's archived flag.
func ItemVisible(viewer Viewer, collection *models.MerchCollection, item *models.MerchItem) bool {
	if item == nil || !CollectionVisible(viewer, collection) {
		return false
	}
	return viewer.CanSeeHidden || !item.Hidden
}

// EnsureItemVisible maps an invisible item to NotFound so hidden catalog
// entries never leak through member reads.
func EnsureItemVisible(viewer Viewer, collection *models.MerchCollection, item *models.MerchItem) error {
	if !ItemVisible(viewer, collection, item) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
	}
	return nil
}

// Purchasable reports whether members may buy the item at all; hidden items
// and items of archived collections are off sale regardless of who asks.
func Purchasable(collection *models.MerchCollection, item *models.MerchItem) bool {
	return ItemVisible(Viewer{}, collection, item)
}

// FilterItems drops the items the viewer may not see.
func FilterItems(viewer Viewer, collection *models.MerchCollection, items []models.MerchItem) []models.MerchItem {
	out := make([]models.MerchItem, 0, len(items))
	for i := range items {
		if ItemVisible(viewer, collection, &items[i]) {
			out = append(out, items[i])
		}
	}
	return out
}
