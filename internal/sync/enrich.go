package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Sales recorded offline reference products by name, because the authoritative
// product and batch identifiers are unknown without the server. Before a
// queued sale create can be replayed, each line must be resolved against
// current remote product/batch state. A line that cannot be resolved makes the
// whole operation unsendable; nothing is partially submitted.

// flexID accepts both string and numeric identifiers from the remote API.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	return fmt.Errorf("identifier is neither string nor number: %s", b)
}

type offlineSaleItem struct {
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Discount    float64 `json:"discount"`
}

type saleItem struct {
	ProductID string  `json:"product_id"`
	BatchID   string  `json:"batch_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Discount  float64 `json:"discount"`
}

type remoteBatch struct {
	ID       flexID  `json:"id"`
	Quantity float64 `json:"quantity"`
}

type remoteProduct struct {
	ID      flexID        `json:"id"`
	Name    string        `json:"name"`
	Batches []remoteBatch `json:"batches"`
}

// enrichSale resolves a sale payload's offline_items into authoritative
// product/batch line items. A payload without offline_items passes through
// unchanged.
func enrichSale(ctx context.Context, client remoteGetter, payload json.RawMessage) (json.RawMessage, error) {
	var sale map[string]json.RawMessage
	if err := json.Unmarshal(payload, &sale); err != nil {
		return nil, fmt.Errorf("sale payload is not an object: %w", err)
	}

	rawItems, ok := sale["offline_items"]
	if !ok {
		return payload, nil
	}

	var offlineItems []offlineSaleItem
	if err := json.Unmarshal(rawItems, &offlineItems); err != nil {
		return nil, fmt.Errorf("offline_items malformed: %w", err)
	}

	body, err := client.Get(ctx, endpoints["products"])
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products for enrichment: %w", err)
	}

	var products []remoteProduct
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, fmt.Errorf("unexpected products payload: %w", err)
	}

	items := make([]saleItem, 0, len(offlineItems))
	for _, line := range offlineItems {
		product, err := matchProduct(products, line.ProductName)
		if err != nil {
			return nil, err
		}

		batch, err := pickBatch(product)
		if err != nil {
			return nil, err
		}

		items = append(items, saleItem{
			ProductID: string(product.ID),
			BatchID:   string(batch.ID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Discount:  line.Discount,
		})
	}

	enrichedItems, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode enriched items: %w", err)
	}
	sale["items"] = enrichedItems
	delete(sale, "offline_items")

	enriched, err := json.Marshal(sale)
	if err != nil {
		return nil, fmt.Errorf("failed to encode enriched sale: %w", err)
	}
	return enriched, nil
}

// remoteGetter is the slice of the API client enrichment needs.
type remoteGetter interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

func matchProduct(products []remoteProduct, name string) (*remoteProduct, error) {
	for i := range products {
		if strings.EqualFold(products[i].Name, name) {
			return &products[i], nil
		}
	}
	return nil, fmt.Errorf("no matching product for %q", name)
}

func pickBatch(product *remoteProduct) (*remoteBatch, error) {
	for i := range product.Batches {
		if product.Batches[i].Quantity > 0 {
			return &product.Batches[i], nil
		}
	}
	return nil, fmt.Errorf("product %q has no available batch stock", product.Name)
}
