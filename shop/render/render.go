// Package render builds outbound chat messages from catalog, cart and delivery data.
// Every function here is pure.
package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/m3rciful/pizzabot/shop/commerce"
	"github.com/m3rciful/pizzabot/shop/geo"
)

// Button is an inline action. Payload is echoed back when pressed.
type Button struct {
	Label   string
	Payload string
}

// Card is one carousel element.
type Card struct {
	Title    string
	Subtitle string
	ImageURL string
	Buttons  []Button
}

// Message is a front-neutral outbound message.
type Message struct {
	Text     string
	ImageURL string
	Keyboard [][]Button
	Cards    []Card
	// ReplacePrevious asks the front to delete the message that triggered this reply.
	ReplacePrevious bool
	// Toast marks a short acknowledgement that fronts may show as a popup.
	Toast bool
}

// Assets are the image URLs used by the carousel menu.
type Assets struct {
	MenuImageURL       string
	CategoriesImageURL string
}

// Labels.
const (
	LabelCart        = "Корзина"
	LabelBack        = "Назад"
	LabelToMenu      = "В меню"
	LabelMenu        = "Меню"
	LabelCheckout    = "Оплатить"
	LabelPay         = "Оплатить"
	LabelConfirm     = "Верно"
	LabelReject      = "Неверно"
	LabelAddToCart   = "Добавить в корзину"
	LabelPickup      = "Самовывоз"
	LabelDelivery    = "Доставка"
	LabelPromotions  = "Акции"
	LabelPlaceOrder  = "Сделать заказ"
	removeLabelStart = "Убрать из корзины "
)

// Texts.
const (
	TextUnknownSession  = `Кажется Вы у нас впервые, запустите бота командой "/start"`
	TextMenu            = "Товары магазина:"
	TextAddedToCart     = "Пицца добавлена в корзину"
	TextEmptyCart       = "Пожалуйста, перейдите в меню и выберите товар."
	TextEmailPrompt     = "Для согласования оплаты, пожалуйста, укажите Ваш email"
	TextInvalidEmail    = "Кажется, Вы ввели неверный email, попробуйте еще раз, пожалуйста"
	TextEmailThanks     = "Спасибо за заказ, мы всегда рады видеть Вас снова!"
	TextEmailRetry      = "Ничего страшного, просто введите Ваш email еще раз."
	TextAddressPrompt   = "Хорошо, пришлите нам Ваш адрес текстом или геолокацию."
	TextAddressNotFound = "Не удалось найти такой адрес. Уточните его, пожалуйста, или пришлите геолокацию."
	TextChooseDelivery  = "Выберите, пожалуйста, доставку или самовывоз."
	TextPayHint         = "Чтобы перейти к оплате, нажмите «Оплатить»."
	TextReminder        = "Приятного аппетита! *место для рекламы*\n\nЕсли пицца не пришла, напишите нам, и мы вернем деньги."
	TextPaymentSuccess  = "Оплата прошла, благодарим, что выбрали нас! Всего доброго!"
	carouselHeadTitle   = "Меню"
	carouselHeadSub     = "На любой вкус!"
	categoriesTitle     = "Не нашли нужную пиццу?"
	categoriesSubtitle  = "Остальные пиццы можно посмотреть в категориях ниже."
	maxCardButtons      = 3
)

// Money formats minor units as rubles, dropping zero kopecks.
func Money(minor int64) string {
	if minor%100 == 0 {
		return strconv.FormatInt(minor/100, 10)
	}
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func menuRow() []Button {
	return []Button{{Label: LabelToMenu, Payload: VerbMenu}}
}

// Text is a plain message.
func Text(text string) Message {
	return Message{Text: text}
}

// WithMenuButton is a plain message with a single "to menu" button.
func WithMenuButton(text string) Message {
	return Message{Text: text, Keyboard: [][]Button{menuRow()}}
}

// Greeting opens a conversation started with /start.
func Greeting(username string) string {
	if username == "" {
		return "Доброго денечка! Это пиццерия."
	}
	return fmt.Sprintf("Доброго денечка, %s! Это пиццерия.", username)
}

// MenuKeyboard lists every product as a button, one per row, followed by the cart button.
func MenuKeyboard(text string, products []commerce.Product) Message {
	rows := make([][]Button, 0, len(products)+1)
	for _, p := range products {
		rows = append(rows, []Button{{Label: p.Name, Payload: p.ID}})
	}
	rows = append(rows, []Button{{Label: LabelCart, Payload: VerbCart}})
	return Message{Text: text, Keyboard: rows}
}

// CarouselInput is what the carousel menu is built from.
type CarouselInput struct {
	Products []commerce.Product
	// Images maps product id to its image URL.
	Images map[string]string
	// Categories in display order; Hidden names are left out of the category card.
	Categories []commerce.Category
	Hidden     []string
	// Cap limits product cards; 0 means no limit.
	Cap    int
	Assets Assets
}

// MenuCarousel renders a header card, product cards and category cards of at most three buttons each.
func MenuCarousel(in CarouselInput) Message {
	cards := []Card{{
		Title:    carouselHeadTitle,
		Subtitle: carouselHeadSub,
		ImageURL: in.Assets.MenuImageURL,
		Buttons: []Button{
			{Label: LabelCart, Payload: VerbCart},
			{Label: LabelPromotions, Payload: VerbMenu},
			{Label: LabelPlaceOrder, Payload: VerbCheckout},
		},
	}}

	products := in.Products
	if in.Cap > 0 && len(products) > in.Cap {
		products = products[:in.Cap]
	}
	for _, p := range products {
		cards = append(cards, Card{
			Title:    fmt.Sprintf("%s %sр.", p.Name, Money(int64(p.Price))),
			Subtitle: p.Description,
			ImageURL: in.Images[p.ID],
			Buttons:  []Button{{Label: LabelAddToCart, Payload: Token(VerbAdd, p.ID)}},
		})
	}

	hidden := make(map[string]struct{}, len(in.Hidden))
	for _, h := range in.Hidden {
		hidden[h] = struct{}{}
	}
	var catButtons []Button
	for _, c := range in.Categories {
		if _, skip := hidden[c.Name]; skip {
			continue
		}
		catButtons = append(catButtons, Button{Label: c.Name, Payload: Token(VerbCategory, c.Name)})
	}
	for start := 0; start < len(catButtons); start += maxCardButtons {
		end := min(start+maxCardButtons, len(catButtons))
		cards = append(cards, Card{
			Title:    categoriesTitle,
			Subtitle: categoriesSubtitle,
			ImageURL: in.Assets.CategoriesImageURL,
			Buttons:  catButtons[start:end],
		})
	}
	return Message{Cards: cards}
}

// ProductView is everything shown on a product card.
type ProductView struct {
	Product  commerce.Product
	Price    commerce.Money
	Currency string
	Stock    int
	ImageURL string
}

// ProductCard shows one product with add, back and cart buttons.
func ProductCard(v ProductView) Message {
	var b strings.Builder
	b.WriteString(v.Product.Name)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Цена: %s %s\n", Money(int64(v.Price)), v.Currency)
	fmt.Fprintf(&b, "В наличии: %d\n", v.Stock)
	if v.Product.Description != "" {
		b.WriteString("\n")
		b.WriteString(v.Product.Description)
	}
	return Message{
		Text:     b.String(),
		ImageURL: v.ImageURL,
		Keyboard: [][]Button{
			{{Label: LabelAddToCart, Payload: Token(VerbAdd, v.Product.ID)}},
			{{Label: LabelBack, Payload: VerbBack}},
			{{Label: LabelCart, Payload: VerbCart}},
		},
		ReplacePrevious: true,
	}
}

// Cart lists the cart with a remove button per line, checkout when not empty, and back to menu.
func Cart(cart commerce.Cart) Message {
	var rows [][]Button
	if len(cart.Items) == 0 {
		rows = append(rows, menuRow())
		return Message{Text: TextEmptyCart, Keyboard: rows, ReplacePrevious: true}
	}
	var b strings.Builder
	for _, it := range cart.Items {
		fmt.Fprintf(&b, "%s\n", it.Name)
		if it.Description != "" {
			fmt.Fprintf(&b, "%s\n", it.Description)
		}
		fmt.Fprintf(&b, "%d шт. по %s руб., всего %s руб.\n\n", it.Quantity, Money(int64(it.UnitPrice)), Money(int64(it.Value)))
		rows = append(rows, []Button{{Label: removeLabelStart + it.Name, Payload: Token(VerbRemove, it.ID)}})
	}
	fmt.Fprintf(&b, "К оплате: %s руб.", Money(int64(cart.Total)))
	rows = append(rows, []Button{{Label: LabelCheckout, Payload: VerbCheckout}}, menuRow())
	return Message{Text: b.String(), Keyboard: rows, ReplacePrevious: true}
}

// ConfirmEmail asks the customer to confirm the email that was stored.
func ConfirmEmail(c commerce.Customer) Message {
	return Message{
		Text:     fmt.Sprintf("%s, Ваш email %s?", c.Name, c.Email),
		Keyboard: [][]Button{
			{{Label: LabelConfirm, Payload: VerbConfirm}},
			{{Label: LabelReject, Payload: VerbReject}},
			menuRow(),
		},
	}
}

// ShippingOffer proposes delivery, and pickup when the pizzeria is close enough.
func ShippingOffer(f geo.Facility, distanceKm float64, tier geo.Tier) Message {
	deliver := Button{Label: LabelDelivery, Payload: Token(VerbDeliver, strconv.FormatInt(tier.Cost*100, 10))}
	pickup := Button{Label: LabelPickup, Payload: VerbPickup}
	switch {
	case tier.PickupOffered:
		meters := int64(math.Round(distanceKm * 1000))
		return Message{
			Text:     fmt.Sprintf("Может, заберете пиццу из нашей пиццерии неподалеку? Она всего в %d метрах от Вас! Вот ее адрес: %s.\n\nА можем и бесплатно доставить, нам не сложно.", meters, f.Address),
			Keyboard: [][]Button{{pickup, deliver}},
		}
	default:
		return Message{
			Text:     fmt.Sprintf("Ближайшая пиццерия: %s. Доставка будет стоить %d рублей. Доставляем или самовывоз?", f.Address, tier.Cost),
			Keyboard: [][]Button{{deliver, pickup}},
		}
	}
}

// OutOfRange tells the customer the nearest pizzeria is too far to deliver.
func OutOfRange(f geo.Facility, distanceKm float64) Message {
	return WithMenuButton(fmt.Sprintf(
		"Простите, но так далеко мы пиццу не доставим. Ближайшая пиццерия аж в %.1f км от Вас: %s. Можете забрать пиццу сами.",
		distanceKm, f.Address))
}

// PickupThanks closes a pickup order.
func PickupThanks(f geo.Facility) Message {
	return WithMenuButton(fmt.Sprintf("Спасибо, что выбрали нас! Ждем Вас по адресу: %s", f.Address))
}

// PayPrompt shows the order total and the pay button carrying the amount in minor units.
func PayPrompt(totalMinor int64) Message {
	return Message{
		Text:     fmt.Sprintf("Сумма заказа с доставкой: %s руб.", Money(totalMinor)),
		Keyboard: [][]Button{
			{{Label: LabelPay, Payload: Token(VerbPay, strconv.FormatInt(totalMinor, 10))}},
			menuRow(),
		},
	}
}

// CourierOrder is the order summary sent to the delivery agent.
func CourierOrder(cart commerce.Cart, shippingMinor int64) string {
	var b strings.Builder
	b.WriteString("Новый заказ на доставку:\n")
	for _, it := range cart.Items {
		fmt.Fprintf(&b, "%s x%d, %s руб.\n", it.Name, it.Quantity, Money(int64(it.Value)))
	}
	fmt.Fprintf(&b, "Доставка: %s руб.\n", Money(shippingMinor))
	fmt.Fprintf(&b, "Итого: %s руб.", Money(int64(cart.Total)+shippingMinor))
	return b.String()
}

// PaymentSuccess thanks the customer after a successful payment.
func PaymentSuccess() Message {
	return Message{
		Text:     TextPaymentSuccess,
		Keyboard: [][]Button{{{Label: LabelMenu, Payload: VerbBack}}},
	}
}
