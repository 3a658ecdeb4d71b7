package commerce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/m3rciful/pizzabot/core/logger"
)

// ProductDraft is a product to publish together with its main image.
type ProductDraft struct {
	SKU         string
	Name        string
	Description string
	ImageURL    string
}

// CreateProduct creates the product, uploads its image and attaches it as the main image.
// When a later step fails the created product is deleted before the error is returned,
// so no product is left without its image.
func (c *Client) CreateProduct(ctx context.Context, draft ProductDraft) (string, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "product",
			"attributes": map[string]any{
				"commodity_type": "physical",
				"sku":            draft.SKU,
				"slug":           draft.SKU,
				"name":           draft.Name,
				"description":    draft.Description,
				"status":         "live",
			},
		},
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.call(ctx, "products.create", http.MethodPost, "/pcm/products", body, &created); err != nil {
		return "", err
	}
	productID := created.Data.ID

	if err := c.attachImage(ctx, productID, draft.ImageURL); err != nil {
		if rbErr := c.DeleteProduct(context.WithoutCancel(ctx), productID); rbErr != nil {
			logger.Error(ctx, logger.CompCommerce, "product.rollback",
				slog.String("status", "fail"),
				slog.String("product_id", productID),
				slog.String("err", rbErr.Error()),
			)
			return "", errors.Join(err, fmt.Errorf("rollback product %s: %w", productID, rbErr))
		}
		logger.Warn(ctx, logger.CompCommerce, "product.rollback",
			slog.String("status", "ok"),
			slog.String("product_id", productID),
		)
		return "", err
	}
	return productID, nil
}

// DeleteProduct removes a product.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.call(ctx, "products.delete", http.MethodDelete, "/pcm/products/"+url.PathEscape(id), nil, nil)
}

func (c *Client) attachImage(ctx context.Context, productID, imageURL string) error {
	fileID, err := c.uploadFileLocation(ctx, imageURL)
	if err != nil {
		return err
	}
	body := map[string]any{
		"data": map[string]any{"type": "file", "id": fileID},
	}
	path := "/pcm/products/" + url.PathEscape(productID) + "/relationships/main_image"
	return c.call(ctx, "image.attach", http.MethodPost, path, body, nil)
}

// uploadFileLocation registers a remote image by URL and returns the file id.
func (c *Client) uploadFileLocation(ctx context.Context, location string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("file_location", location); err != nil {
		return "", fmt.Errorf("encoding upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("encoding upload: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do("files.upload", req, &resp); err != nil {
		return "", err
	}
	return resp.Data.ID, nil
}
