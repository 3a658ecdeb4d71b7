package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/shop/commerce"
	"github.com/m3rciful/pizzabot/shop/events"
	"github.com/m3rciful/pizzabot/shop/geo"
	"github.com/m3rciful/pizzabot/shop/render"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)+$`)

// Address entry fields.
const (
	FieldCustomerID = "CustomerID"
	FieldLongitude  = geo.FieldLongitude
	FieldLatitude   = geo.FieldLatitude
)

const imageFetchLimit = 4

// handleReset answers the reset command with the top-level menu and parks the session at Start.
func (m *Machine) handleReset(ctx context.Context, ev Event) (Effects, State, error) {
	var eff Effects
	msg, err := m.greet(ctx, ev)
	if err != nil {
		return eff, Start, err
	}
	eff.reply(msg)
	return eff, Start, nil
}

// handleStart treats a menu button press as browsing and anything else as a request for the menu.
func (m *Machine) handleStart(ctx context.Context, ev Event, key string) (Effects, State, error) {
	if ev.Kind == KindPostback {
		return m.handleBrowse(ctx, m.startNext, ev, key)
	}
	var eff Effects
	msg, err := m.greet(ctx, ev)
	if err != nil {
		return eff, Start, err
	}
	eff.reply(msg)
	return eff, m.startNext, nil
}

func (m *Machine) greet(ctx context.Context, ev Event) (render.Message, error) {
	if m.opts.Policy.Layout == config.LayoutCarousel {
		return m.carousel(ctx, "")
	}
	products, err := m.deps.Commerce.ListProducts(ctx)
	if err != nil {
		return render.Message{}, fmt.Errorf("list products: %w", err)
	}
	return render.MenuKeyboard(render.Greeting(ev.Username), products), nil
}

// menu re-renders the top-level menu in the front's layout.
func (m *Machine) menu(ctx context.Context, category string) (render.Message, error) {
	if m.opts.Policy.Layout == config.LayoutCarousel {
		return m.carousel(ctx, category)
	}
	products, err := m.deps.Commerce.ListProducts(ctx)
	if err != nil {
		return render.Message{}, fmt.Errorf("list products: %w", err)
	}
	msg := render.MenuKeyboard(render.TextMenu, products)
	msg.ReplacePrevious = true
	return msg, nil
}

func (m *Machine) carousel(ctx context.Context, category string) (render.Message, error) {
	ids, err := m.deps.Commerce.ListCategories(ctx)
	if err != nil {
		return render.Message{}, fmt.Errorf("list categories: %w", err)
	}
	if category == "" {
		category = m.opts.MainCategory
	}
	var products []commerce.Product
	if id, ok := ids[category]; ok {
		products, err = m.deps.Commerce.ListProductsByCategory(ctx, id)
	} else {
		if category != "" {
			logger.Warn(ctx, logger.CompFSM, "menu.category",
				slog.String("status", "skip"),
				slog.String("category", category),
			)
		}
		category = ""
		products, err = m.deps.Commerce.ListProducts(ctx)
	}
	if err != nil {
		return render.Message{}, fmt.Errorf("list products: %w", err)
	}

	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
	sort.Strings(names)
	categories := make([]commerce.Category, 0, len(names))
	for _, name := range names {
		categories = append(categories, commerce.Category{ID: ids[name], Name: name})
	}
	hidden := append([]string{m.opts.MainCategory, category}, m.opts.HiddenCategories...)

	shown := products
	if limit := m.opts.Policy.CarouselCap; limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	return render.MenuCarousel(render.CarouselInput{
		Products:   products,
		Images:     m.images(ctx, shown),
		Categories: categories,
		Hidden:     hidden,
		Cap:        m.opts.Policy.CarouselCap,
		Assets:     m.opts.Assets,
	}), nil
}

// images fetches product images concurrently. A missing image leaves the card without one.
func (m *Machine) images(ctx context.Context, products []commerce.Product) map[string]string {
	urls := make([]string, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageFetchLimit)
	for i, p := range products {
		g.Go(func() error {
			url, err := m.deps.Commerce.GetProductImage(gctx, p.ID)
			if err != nil {
				logger.Warn(ctx, logger.CompFSM, "menu.image",
					slog.String("status", "fail"),
					slog.String("product_id", p.ID),
					slog.String("err", err.Error()),
				)
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(products))
	for i, p := range products {
		if urls[i] != "" {
			out[p.ID] = urls[i]
		}
	}
	return out
}

// handleBrowse serves both the menu and the product description states.
func (m *Machine) handleBrowse(ctx context.Context, state State, ev Event, key string) (Effects, State, error) {
	var eff Effects
	verb, arg := render.Parse(ev.Text)
	switch verb {
	case render.VerbAdd:
		if arg == "" {
			return eff, state, &malformedError{reason: "add without product"}
		}
		if err := m.deps.Commerce.AddToCart(ctx, key, arg, 1); err != nil {
			return eff, state, fmt.Errorf("add to cart: %w", err)
		}
		eff.reply(render.Message{Text: render.TextAddedToCart, Toast: true})
		return eff, state, nil
	case render.VerbCart:
		msg, err := m.cart(ctx, key)
		if err != nil {
			return eff, state, err
		}
		eff.reply(msg)
		return eff, HandleCart, nil
	case render.VerbCheckout:
		return m.checkout()
	case render.VerbCategory:
		msg, err := m.menu(ctx, arg)
		if err != nil {
			return eff, state, err
		}
		eff.reply(msg)
		return eff, m.startNext, nil
	case "":
		if ev.Kind == KindPostback && arg != "" {
			msg, err := m.productCard(ctx, arg)
			if err != nil {
				return eff, state, err
			}
			eff.reply(msg)
			return eff, HandleDescription, nil
		}
	}
	msg, err := m.menu(ctx, "")
	if err != nil {
		return eff, state, err
	}
	eff.reply(msg)
	return eff, m.startNext, nil
}

func (m *Machine) productCard(ctx context.Context, productID string) (render.Message, error) {
	var (
		product commerce.Product
		prices  map[string]commerce.Price
		stock   int
		image   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		product, err = m.deps.Commerce.GetProduct(gctx, productID)
		return err
	})
	g.Go(func() (err error) {
		prices, err = m.deps.Commerce.GetPrice(gctx, productID)
		return err
	})
	g.Go(func() (err error) {
		stock, err = m.deps.Commerce.GetStock(gctx, productID)
		return err
	})
	g.Go(func() (err error) {
		image, err = m.deps.Commerce.GetProductImage(gctx, productID)
		return err
	})
	if err := g.Wait(); err != nil {
		return render.Message{}, fmt.Errorf("product %s: %w", productID, err)
	}

	currency := m.deps.Commerce.Currency()
	price := product.Price
	if p, ok := prices[currency]; ok {
		price = p.Amount
	}
	return render.ProductCard(render.ProductView{
		Product:  product,
		Price:    price,
		Currency: currency,
		Stock:    stock,
		ImageURL: image,
	}), nil
}

func (m *Machine) cart(ctx context.Context, key string) (render.Message, error) {
	cart, err := m.deps.Commerce.GetCart(ctx, key)
	if err != nil {
		return render.Message{}, fmt.Errorf("get cart: %w", err)
	}
	return render.Cart(cart), nil
}

func (m *Machine) checkout() (Effects, State, error) {
	var eff Effects
	if m.opts.Policy.Checkout == config.CheckoutDelivery {
		eff.reply(render.WithMenuButton(render.TextAddressPrompt))
		return eff, WaitingPayment, nil
	}
	eff.reply(render.WithMenuButton(render.TextEmailPrompt))
	return eff, WaitingEmail, nil
}

func (m *Machine) handleCart(ctx context.Context, ev Event, key string) (Effects, State, error) {
	var eff Effects
	verb, arg := render.Parse(ev.Text)
	switch verb {
	case render.VerbRemove:
		if arg == "" {
			return eff, HandleCart, &malformedError{reason: "remove without item"}
		}
		if err := m.deps.Commerce.RemoveFromCart(ctx, key, arg); err != nil {
			return eff, HandleCart, fmt.Errorf("remove from cart: %w", err)
		}
	case render.VerbMenu, render.VerbBack:
		msg, err := m.menu(ctx, "")
		if err != nil {
			return eff, HandleCart, err
		}
		eff.reply(msg)
		return eff, m.startNext, nil
	case render.VerbCheckout:
		return m.checkout()
	}
	msg, err := m.cart(ctx, key)
	if err != nil {
		return eff, HandleCart, err
	}
	eff.reply(msg)
	return eff, HandleCart, nil
}

func (m *Machine) handleEmail(ctx context.Context, ev Event) (Effects, State, error) {
	var eff Effects
	verb, arg := render.Parse(ev.Text)
	switch verb {
	case render.VerbMenu, render.VerbBack:
		msg, err := m.menu(ctx, "")
		if err != nil {
			return eff, WaitingEmail, err
		}
		eff.reply(msg)
		return eff, m.startNext, nil
	case render.VerbConfirm:
		eff.reply(render.WithMenuButton(render.TextEmailThanks))
		return eff, WaitingEmail, nil
	case render.VerbReject:
		eff.reply(render.WithMenuButton(render.TextEmailRetry))
		return eff, WaitingEmail, nil
	}
	if ev.Kind == KindPostback || !emailPattern.MatchString(arg) {
		eff.reply(render.WithMenuButton(render.TextInvalidEmail))
		return eff, WaitingEmail, nil
	}
	name := ev.Username
	if name == "" {
		name = ev.UserID
	}
	customer, err := m.deps.Commerce.CreateOrFindCustomer(ctx, name, arg)
	if err != nil {
		return eff, WaitingEmail, fmt.Errorf("customer: %w", err)
	}
	eff.reply(render.ConfirmEmail(customer))
	return eff, WaitingEmail, nil
}

// handleAddress resolves the delivery address and offers shipping options.
// An address the geocoder cannot resolve is asked for again.
func (m *Machine) handleAddress(ctx context.Context, ev Event, key string) (Effects, State, error) {
	var eff Effects
	var point geo.Point
	if ev.Kind == KindLocation {
		point = *ev.Location
	} else {
		verb, arg := render.Parse(ev.Text)
		if verb == render.VerbMenu || verb == render.VerbBack {
			msg, err := m.menu(ctx, "")
			if err != nil {
				return eff, WaitingPayment, err
			}
			eff.reply(msg)
			return eff, m.startNext, nil
		}
		if verb != "" || ev.Kind == KindPostback {
			eff.reply(render.WithMenuButton(render.TextAddressPrompt))
			return eff, WaitingPayment, nil
		}
		p, err := m.deps.Geocoder.Resolve(ctx, arg)
		var gerr *geo.GeocodeError
		switch {
		case errors.Is(err, geo.ErrNotFound), errors.As(err, &gerr):
			logger.Info(ctx, logger.CompGeo, "address.retry",
				slog.String("status", "skip"),
				slog.String("err_code", logger.ErrorCode(err)),
			)
			eff.reply(render.WithMenuButton(render.TextAddressNotFound))
			return eff, WaitingPayment, nil
		case err != nil:
			return eff, WaitingPayment, fmt.Errorf("geocode: %w", err)
		}
		point = p
	}

	facility, dist, err := m.nearest(ctx, point)
	if err != nil {
		return eff, WaitingPayment, err
	}
	tier := geo.Shipping(dist)
	if tier.OutOfRange {
		eff.reply(render.OutOfRange(facility, dist))
		return eff, m.startNext, nil
	}

	if _, err := m.deps.Commerce.CreateEntry(ctx, m.opts.AddressFlow, map[string]any{
		FieldCustomerID: key,
		FieldLongitude:  point.Lon,
		FieldLatitude:   point.Lat,
	}); err != nil {
		return eff, WaitingPayment, fmt.Errorf("save address: %w", err)
	}
	eff.reply(render.ShippingOffer(facility, dist, tier))
	return eff, WaitingDelivery, nil
}

func (m *Machine) nearest(ctx context.Context, point geo.Point) (geo.Facility, float64, error) {
	entries, err := m.deps.Commerce.ListEntries(ctx, m.opts.PizzeriaFlow)
	if err != nil {
		return geo.Facility{}, 0, fmt.Errorf("list pizzerias: %w", err)
	}
	facilities := make([]geo.Facility, 0, len(entries))
	for _, e := range entries {
		f, err := geo.FacilityFromFields(e.ID, e.Fields)
		if err != nil {
			logger.Warn(ctx, logger.CompGeo, "facility.parse",
				slog.String("status", "skip"),
				slog.String("err", err.Error()),
			)
			continue
		}
		facilities = append(facilities, f)
	}
	f, dist, err := geo.Nearest(point, facilities)
	if err != nil {
		return geo.Facility{}, 0, fmt.Errorf("nearest pizzeria: %w", err)
	}
	return f, dist, nil
}

// lastAddress returns the most recently saved address of the session.
func (m *Machine) lastAddress(ctx context.Context, key string) (geo.Point, error) {
	entries, err := m.deps.Commerce.ListEntries(ctx, m.opts.AddressFlow)
	if err != nil {
		return geo.Point{}, fmt.Errorf("list addresses: %w", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Field(FieldCustomerID) != key {
			continue
		}
		lon, lonErr := strconv.ParseFloat(e.Field(FieldLongitude), 64)
		lat, latErr := strconv.ParseFloat(e.Field(FieldLatitude), 64)
		if err := errors.Join(lonErr, latErr); err != nil {
			return geo.Point{}, fmt.Errorf("address %s: %w", e.ID, err)
		}
		return geo.Point{Lon: lon, Lat: lat}, nil
	}
	return geo.Point{}, fmt.Errorf("no saved address for %s", key)
}

func (m *Machine) handleDelivery(ctx context.Context, ev Event, key string) (Effects, State, error) {
	var eff Effects
	verb, arg := render.Parse(ev.Text)
	switch verb {
	case render.VerbMenu, render.VerbBack:
		msg, err := m.menu(ctx, "")
		if err != nil {
			return eff, WaitingDelivery, err
		}
		eff.reply(msg)
		return eff, m.startNext, nil
	case render.VerbPickup, render.VerbDeliver:
	default:
		eff.reply(render.Text(render.TextChooseDelivery))
		return eff, WaitingDelivery, nil
	}

	q, err := m.quote(ctx, key, verb == render.VerbDeliver)
	if err != nil {
		return eff, WaitingDelivery, err
	}
	if verb == render.VerbPickup {
		eff.reply(render.PickupThanks(q.facility))
		return eff, m.startNext, nil
	}
	if q.outOfRange {
		eff.reply(render.OutOfRange(q.facility, q.distance))
		return eff, m.startNext, nil
	}
	if offered, err := strconv.ParseInt(arg, 10, 64); err != nil || offered != q.shipping {
		logger.Warn(ctx, logger.CompFSM, "shipping.mismatch",
			slog.String("offered", arg),
			slog.Int64("shipping_minor", q.shipping),
		)
	}
	facility, point, cart, shipping, total := q.facility, q.point, q.cart, q.shipping, q.total()

	if facility.DeliveryAgent != "" {
		eff.Notify = &Notification{
			RecipientID: facility.DeliveryAgent,
			Text:        render.CourierOrder(cart, shipping),
			Location:    &point,
		}
	} else {
		logger.Warn(ctx, logger.CompFSM, "courier.missing",
			slog.String("status", "skip"),
			slog.String("facility", facility.ID),
		)
	}
	eff.Reminder = true

	order := events.NewOrderPlaced(ev.Front, ev.UserID, m.opts.Now())
	order.FacilityAlias = facility.Alias
	order.CourierID = facility.DeliveryAgent
	order.TotalMinor = total
	order.ShippingMinor = shipping
	order.Lon, order.Lat = point.Lon, point.Lat
	for _, it := range cart.Items {
		order.Items = append(order.Items, events.OrderItem{
			ProductID:  it.ProductID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			ValueMinor: int64(it.Value),
		})
	}
	eff.Order = &order

	eff.reply(render.PayPrompt(total))
	return eff, WaitingTransaction, nil
}

func (m *Machine) handleTransaction(ctx context.Context, ev Event, key string) (Effects, State, error) {
	var eff Effects
	verb, arg := render.Parse(ev.Text)
	switch {
	case verb == render.VerbPay && ev.Kind == KindPostback:
		q, err := m.quote(ctx, key, true)
		if err != nil {
			return eff, WaitingTransaction, err
		}
		if q.outOfRange {
			eff.reply(render.OutOfRange(q.facility, q.distance))
			return eff, m.startNext, nil
		}
		total := q.total()
		if offered, err := strconv.ParseInt(arg, 10, 64); err != nil || offered != total {
			logger.Warn(ctx, logger.CompFSM, "pay.mismatch",
				slog.String("status", "skip"),
				slog.String("offered", arg),
				slog.Int64("total_minor", total),
			)
			eff.reply(render.PayPrompt(total))
			return eff, WaitingTransaction, nil
		}
		inv, err := m.deps.Payments.NewInvoice(total)
		if err != nil {
			return eff, WaitingTransaction, err
		}
		eff.Invoice = &inv
		return eff, m.startNext, nil
	case verb == render.VerbMenu, verb == render.VerbBack:
		msg, err := m.menu(ctx, "")
		if err != nil {
			return eff, WaitingTransaction, err
		}
		eff.reply(msg)
		return eff, m.startNext, nil
	}
	eff.reply(render.Text(render.TextPayHint))
	return eff, WaitingTransaction, nil
}

// deliveryQuote is the order price derived from stored data only.
type deliveryQuote struct {
	point      geo.Point
	facility   geo.Facility
	distance   float64
	outOfRange bool
	shipping   int64
	cart       commerce.Cart
}

func (q deliveryQuote) total() int64 { return int64(q.cart.Total) + q.shipping }

// quote resolves the saved address, the nearest pizzeria and the shipping
// tier. The cart is only fetched for an in-range delivery.
func (m *Machine) quote(ctx context.Context, key string, withCart bool) (deliveryQuote, error) {
	var q deliveryQuote
	point, err := m.lastAddress(ctx, key)
	if err != nil {
		return q, err
	}
	facility, dist, err := m.nearest(ctx, point)
	if err != nil {
		return q, err
	}
	q.point, q.facility, q.distance = point, facility, dist
	tier := geo.Shipping(dist)
	if tier.OutOfRange {
		q.outOfRange = true
		return q, nil
	}
	q.shipping = tier.Cost * 100
	if !withCart {
		return q, nil
	}
	if q.cart, err = m.deps.Commerce.GetCart(ctx, key); err != nil {
		return q, fmt.Errorf("get cart: %w", err)
	}
	return q, nil
}
