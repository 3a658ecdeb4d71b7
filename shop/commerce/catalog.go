package commerce

import (
	"context"
	"net/http"
	"net/url"
)

// Product is a catalog entry as seen by the bot.
type Product struct {
	ID          string
	Name        string
	Description string
	SKU         string
	// Price is set only by listings that embed prices; zero otherwise.
	Price Money
}

// Price is one currency entry of a product price.
type Price struct {
	Amount      Money `json:"amount"`
	IncludesTax bool  `json:"includes_tax"`
}

// Category is a named product grouping.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type productAttributes struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	SKU         string           `json:"sku"`
	Price       map[string]Price `json:"price"`
}

type productResource struct {
	ID         string            `json:"id"`
	Attributes productAttributes `json:"attributes"`
}

func (r productResource) toProduct(currency string) Product {
	return Product{
		ID:          r.ID,
		Name:        r.Attributes.Name,
		Description: r.Attributes.Description,
		SKU:         r.Attributes.SKU,
		Price:       r.Attributes.Price[currency].Amount,
	}
}

func (c *Client) toProducts(in []productResource) []Product {
	out := make([]Product, 0, len(in))
	for _, r := range in {
		out = append(out, r.toProduct(c.currency))
	}
	return out
}

// ListProducts returns every product in the catalog.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var resp struct {
		Data []productResource `json:"data"`
	}
	if err := c.call(ctx, "products.list", http.MethodGet, "/pcm/products", nil, &resp); err != nil {
		return nil, err
	}
	return c.toProducts(resp.Data), nil
}

// ListProductsByCategory returns the published products of one category node, with prices.
func (c *Client) ListProductsByCategory(ctx context.Context, categoryID string) ([]Product, error) {
	var resp struct {
		Data []productResource `json:"data"`
	}
	path := "/catalog/nodes/" + url.PathEscape(categoryID) + "/relationships/products"
	if err := c.call(ctx, "products.by_category", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return c.toProducts(resp.Data), nil
}

// ListCategories returns category names mapped to ids.
func (c *Client) ListCategories(ctx context.Context) (map[string]string, error) {
	cats, err := c.Categories(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cats))
	for _, cat := range cats {
		out[cat.Name] = cat.ID
	}
	return out, nil
}

// Categories returns categories in the order the backend lists them.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var resp struct {
		Data []Category `json:"data"`
	}
	if err := c.call(ctx, "categories.list", http.MethodGet, "/v2/categories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetProduct fetches one product.
func (c *Client) GetProduct(ctx context.Context, id string) (Product, error) {
	var resp struct {
		Data productResource `json:"data"`
	}
	if err := c.call(ctx, "product.get", http.MethodGet, "/pcm/products/"+url.PathEscape(id), nil, &resp); err != nil {
		return Product{}, err
	}
	return resp.Data.toProduct(c.currency), nil
}

// GetPrice returns the per-currency price map of a product.
func (c *Client) GetPrice(ctx context.Context, id string) (map[string]Price, error) {
	var resp struct {
		Data productResource `json:"data"`
	}
	path := "/catalog/products/" + url.PathEscape(id) + "?include=prices"
	if err := c.call(ctx, "price.get", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Attributes.Price == nil {
		return map[string]Price{}, nil
	}
	return resp.Data.Attributes.Price, nil
}

// GetStock returns the available inventory of a product.
func (c *Client) GetStock(ctx context.Context, id string) (int, error) {
	var resp struct {
		Data struct {
			Available int `json:"available"`
		} `json:"data"`
	}
	if err := c.call(ctx, "stock.get", http.MethodGet, "/v2/inventories/"+url.PathEscape(id), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Data.Available, nil
}

// GetProductImage resolves the main image of a product to a downloadable URL.
func (c *Client) GetProductImage(ctx context.Context, id string) (string, error) {
	var rel struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	path := "/pcm/products/" + url.PathEscape(id) + "/relationships/main_image"
	if err := c.call(ctx, "image.relationship", http.MethodGet, path, nil, &rel); err != nil {
		return "", err
	}
	if rel.Data.ID == "" {
		return "", &UpstreamError{Op: "image.relationship", Status: http.StatusOK, Body: "product has no main image"}
	}
	var file struct {
		Data struct {
			Link struct {
				Href string `json:"href"`
			} `json:"link"`
		} `json:"data"`
	}
	if err := c.call(ctx, "image.file", http.MethodGet, "/v2/files/"+url.PathEscape(rel.Data.ID), nil, &file); err != nil {
		return "", err
	}
	return file.Data.Link.Href, nil
}
