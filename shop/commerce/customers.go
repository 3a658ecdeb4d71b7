package commerce

import (
	"context"
	"net/http"
	"net/url"
)

// Customer is a customer record of the commerce backend.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateOrFindCustomer returns the customer with exactly this name and email, creating it on a miss.
func (c *Client) CreateOrFindCustomer(ctx context.Context, name, email string) (Customer, error) {
	var found struct {
		Data []Customer `json:"data"`
	}
	filter := url.Values{"filter": {"eq(email," + email + ")"}}
	if err := c.call(ctx, "customers.find", http.MethodGet, "/v2/customers?"+filter.Encode(), nil, &found); err != nil {
		return Customer{}, err
	}
	for _, cust := range found.Data {
		if cust.Name == name && cust.Email == email {
			return cust, nil
		}
	}

	body := map[string]any{
		"data": map[string]any{
			"type":  "customer",
			"name":  name,
			"email": email,
		},
	}
	var created struct {
		Data Customer `json:"data"`
	}
	if err := c.call(ctx, "customers.create", http.MethodPost, "/v2/customers", body, &created); err != nil {
		return Customer{}, err
	}
	return created.Data, nil
}
