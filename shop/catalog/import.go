// Package catalog seeds the commerce backend with pizzerias and menu products.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/shop/commerce"
	"github.com/m3rciful/pizzabot/shop/geo"
)

// Backend is the admin surface of the commerce gateway.
type Backend interface {
	CreateFlow(ctx context.Context, draft commerce.FlowDraft) (string, error)
	CreateEntry(ctx context.Context, flow string, fields map[string]any) (commerce.Entry, error)
	CreateProduct(ctx context.Context, draft commerce.ProductDraft) (string, error)
}

// PizzeriaFields are the flow fields a pizzeria entry carries.
var PizzeriaFields = []string{
	geo.FieldAddress, geo.FieldAlias, geo.FieldLongitude, geo.FieldLatitude, geo.FieldDeliveryAgent,
}

// Pizzeria is one record of the addresses file.
type Pizzeria struct {
	ID      string `json:"id"`
	Alias   string `json:"alias"`
	Address struct {
		Full string `json:"full"`
	} `json:"address"`
	Coordinates struct {
		Lat flexFloat `json:"lat"`
		Lon flexFloat `json:"lon"`
	} `json:"coordinates"`
	DeliverymanID string `json:"deliveryman_id"`
}

// MenuItem is one record of the menu file.
type MenuItem struct {
	ID           flexString `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Price        int64      `json:"price"`
	ProductImage struct {
		URL string `json:"url"`
	} `json:"product_image"`
}

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("coordinate %s: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts both JSON numbers and strings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	*f = flexString(strings.Trim(strings.TrimSpace(string(b)), `"`))
	return nil
}

// ParsePizzerias decodes an addresses file.
func ParsePizzerias(r io.Reader) ([]Pizzeria, error) {
	var out []Pizzeria
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("catalog: decode pizzerias: %w", err)
	}
	return out, nil
}

// ParseMenu decodes a menu file.
func ParseMenu(r io.Reader) ([]MenuItem, error) {
	var out []MenuItem
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("catalog: decode menu: %w", err)
	}
	return out, nil
}

// Fields maps a pizzeria onto the flow fields read back by geo.FacilityFromFields.
func (p Pizzeria) Fields() map[string]any {
	fields := map[string]any{
		geo.FieldAddress:   p.Address.Full,
		geo.FieldAlias:     p.Alias,
		geo.FieldLongitude: strconv.FormatFloat(float64(p.Coordinates.Lon), 'f', -1, 64),
		geo.FieldLatitude:  strconv.FormatFloat(float64(p.Coordinates.Lat), 'f', -1, 64),
	}
	if p.DeliverymanID != "" {
		fields[geo.FieldDeliveryAgent] = p.DeliverymanID
	}
	return fields
}

// Draft maps a menu item onto a product draft.
func (m MenuItem) Draft() commerce.ProductDraft {
	sku := string(m.ID)
	if sku == "" {
		sku = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(m.Name), " ", "-"))
	}
	return commerce.ProductDraft{
		SKU:         sku,
		Name:        m.Name,
		Description: m.Description,
		ImageURL:    m.ProductImage.URL,
	}
}

// Result counts what an import did.
type Result struct {
	Created int
	Failed  int
}

// CreatePizzeriaFlow creates the pizzeria flow with its fields.
func CreatePizzeriaFlow(ctx context.Context, b Backend, name string) (string, error) {
	return b.CreateFlow(ctx, commerce.FlowDraft{
		Name:        name,
		Description: "Pizzeria addresses",
		Fields:      PizzeriaFields,
	})
}

// ImportPizzerias creates one flow entry per pizzeria. A failed entry is
// logged and counted; the import goes on.
func ImportPizzerias(ctx context.Context, b Backend, flow string, items []Pizzeria) Result {
	var res Result
	for _, p := range items {
		if _, err := b.CreateEntry(ctx, flow, p.Fields()); err != nil {
			res.Failed++
			logger.Error(ctx, logger.CompCatalogCtl, "pizzeria.create",
				slog.String("status", "fail"),
				slog.String("alias", p.Alias),
				slog.String("err", err.Error()),
				slog.String("err_code", logger.ErrorCode(err)),
			)
			continue
		}
		res.Created++
	}
	return res
}

// ImportMenu creates one product per menu item. A failed product is logged and
// counted; the import goes on.
func ImportMenu(ctx context.Context, b Backend, items []MenuItem) Result {
	var res Result
	for _, m := range items {
		id, err := b.CreateProduct(ctx, m.Draft())
		if err != nil {
			res.Failed++
			logger.Error(ctx, logger.CompCatalogCtl, "product.create",
				slog.String("status", "fail"),
				slog.String("name", m.Name),
				slog.String("err", err.Error()),
				slog.String("err_code", logger.ErrorCode(err)),
			)
			continue
		}
		res.Created++
		logger.Info(ctx, logger.CompCatalogCtl, "product.create",
			slog.String("status", "ok"),
			slog.String("product_id", id),
		)
	}
	return res
}
