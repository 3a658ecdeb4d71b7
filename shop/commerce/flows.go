package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const entriesPageLimit = 100

// Entry is a schema-less flow record. Field values are rendered as strings.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Field returns the named field or "".
func (e Entry) Field(name string) string {
	return e.Fields[name]
}

func entriesPath(flow string) string {
	return "/v2/flows/" + url.PathEscape(flow) + "/entries"
}

func decodeEntry(raw map[string]json.RawMessage) Entry {
	e := Entry{Fields: make(map[string]string, len(raw))}
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			// numbers and booleans keep their JSON spelling
			s = string(v)
		}
		switch k {
		case "id":
			e.ID = s
		case "type", "links", "meta":
		default:
			if s != "null" {
				e.Fields[k] = s
			}
		}
	}
	return e
}

// CreateEntry stores one record in the flow identified by its slug.
func (c *Client) CreateEntry(ctx context.Context, flow string, fields map[string]any) (Entry, error) {
	data := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data["type"] = "entry"

	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := c.call(ctx, "entries.create", http.MethodPost, entriesPath(flow), map[string]any{"data": data}, &resp); err != nil {
		return Entry{}, err
	}
	return decodeEntry(resp.Data), nil
}

// ListEntries returns every record of the flow, following pagination.
func (c *Client) ListEntries(ctx context.Context, flow string) ([]Entry, error) {
	var out []Entry
	for offset := 0; ; offset += entriesPageLimit {
		q := url.Values{
			"page[limit]":  {strconv.Itoa(entriesPageLimit)},
			"page[offset]": {strconv.Itoa(offset)},
		}
		var resp struct {
			Data []map[string]json.RawMessage `json:"data"`
		}
		if err := c.call(ctx, "entries.list", http.MethodGet, entriesPath(flow)+"?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Data {
			out = append(out, decodeEntry(raw))
		}
		if len(resp.Data) < entriesPageLimit {
			return out, nil
		}
	}
}

// FlowDraft describes a flow with string fields to create.
type FlowDraft struct {
	Name        string
	Slug        string
	Description string
	Fields      []string
}

// CreateFlow creates a flow and one string field per name. It returns the flow id.
func (c *Client) CreateFlow(ctx context.Context, draft FlowDraft) (string, error) {
	slug := draft.Slug
	if slug == "" {
		slug = draft.Name
	}
	body := map[string]any{
		"data": map[string]any{
			"type":        "flow",
			"name":        draft.Name,
			"slug":        slug,
			"description": draft.Description,
			"enabled":     true,
		},
	}
	var flow struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.call(ctx, "flows.create", http.MethodPost, "/v2/flows", body, &flow); err != nil {
		return "", err
	}

	for _, field := range draft.Fields {
		fieldBody := map[string]any{
			"data": map[string]any{
				"type":        "field",
				"name":        field,
				"slug":        field,
				"field_type":  "string",
				"description": field,
				"required":    false,
				"enabled":     true,
				"relationships": map[string]any{
					"flow": map[string]any{
						"data": map[string]any{"type": "flow", "id": flow.Data.ID},
					},
				},
			},
		}
		if err := c.call(ctx, "fields.create", http.MethodPost, "/v2/fields", fieldBody, nil); err != nil {
			return flow.Data.ID, fmt.Errorf("create field %s: %w", field, err)
		}
	}
	return flow.Data.ID, nil
}
