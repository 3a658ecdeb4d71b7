package commerce

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// CartItem is one line of a cart.
type CartItem struct {
	ID          string
	ProductID   string
	Name        string
	Description string
	Quantity    int
	UnitPrice   Money
	Value       Money
}

// Cart holds the items of one customer reference and the aggregate total with tax.
type Cart struct {
	Items []CartItem
	Total Money
}

type amount struct {
	Amount Money `json:"amount"`
}

type cartItemResource struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   amount `json:"unit_price"`
	Value       amount `json:"value"`
}

func cartPath(ref string) string {
	return "/v2/carts/" + url.PathEscape(ref)
}

// AddToCart adds quantity units of a product to the cart keyed by ref.
func (c *Client) AddToCart(ctx context.Context, ref, productID string, quantity int) error {
	body := map[string]any{
		"data": map[string]any{
			"id":       productID,
			"type":     "cart_item",
			"quantity": quantity,
		},
	}
	return c.call(ctx, "cart.add", http.MethodPost, cartPath(ref)+"/items", body, nil)
}

// RemoveFromCart deletes a cart line by its item id.
func (c *Client) RemoveFromCart(ctx context.Context, ref, itemID string) error {
	return c.call(ctx, "cart.remove", http.MethodDelete, cartPath(ref)+"/items/"+url.PathEscape(itemID), nil, nil)
}

// GetCart fetches the cart items and the cart total concurrently.
func (c *Client) GetCart(ctx context.Context, ref string) (Cart, error) {
	var (
		items struct {
			Data []cartItemResource `json:"data"`
		}
		meta struct {
			Data struct {
				Meta struct {
					DisplayPrice struct {
						WithTax amount `json:"with_tax"`
					} `json:"display_price"`
				} `json:"meta"`
			} `json:"data"`
		}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.call(gctx, "cart.items", http.MethodGet, cartPath(ref)+"/items", nil, &items)
	})
	g.Go(func() error {
		return c.call(gctx, "cart.get", http.MethodGet, cartPath(ref), nil, &meta)
	})
	if err := g.Wait(); err != nil {
		return Cart{}, err
	}

	cart := Cart{Total: meta.Data.Meta.DisplayPrice.WithTax.Amount}
	for _, it := range items.Data {
		cart.Items = append(cart.Items, CartItem{
			ID:          it.ID,
			ProductID:   it.ProductID,
			Name:        it.Name,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.Amount,
			Value:       it.Value.Amount,
		})
	}
	return cart, nil
}
