// Package geo resolves addresses to coordinates and picks the pizzeria serving a point.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
)

// ErrNotFound reports that the geocoder knows no place for the address.
var ErrNotFound = errors.New("geo: address not found")

type notFoundError struct{ address string }

func (e *notFoundError) Error() string        { return fmt.Sprintf("geo: address %q not found", e.address) }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
func (e *notFoundError) Code() string         { return "ADDRESS_NOT_FOUND" }

// GeocodeError wraps a transport or parse failure of the geocoder.
type GeocodeError struct {
	Status int
	Err    error
}

func (e *GeocodeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("geo: geocoder status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("geo: geocoder: %v", e.Err)
}

func (e *GeocodeError) Unwrap() error { return e.Err }

// Code reports the stable error code used in logs.
func (e *GeocodeError) Code() string { return "GEOCODE_ERROR" }

// Point is a WGS84 coordinate.
type Point struct {
	Lon float64
	Lat float64
}

// Yandex queries the Yandex HTTP geocoder.
type Yandex struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewYandex builds a geocoder client. A nil httpClient gets a 10s timeout client.
func NewYandex(baseURL, apiKey string, httpClient *http.Client) *Yandex {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Yandex{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, httpClient: httpClient}
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Resolve returns the coordinates of the most relevant match for a free-form address.
func (y *Yandex) Resolve(ctx context.Context, address string) (Point, error) {
	start := time.Now()
	p, err := y.resolve(ctx, address)
	status := "ok"
	if err != nil {
		status = "fail"
	}
	logger.Debug(ctx, logger.CompGeo, "resolve",
		slog.String("status", status),
		slog.Duration("duration", logger.Took(start)),
		slog.String("err_code", logger.ErrorCode(err)),
	)
	return p, err
}

func (y *Yandex) resolve(ctx context.Context, address string) (Point, error) {
	q := url.Values{
		"geocode": {address},
		"apikey":  {y.apiKey},
		"format":  {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Point{}, &GeocodeError{Err: err}
	}
	resp, err := y.httpClient.Do(req)
	if err != nil {
		return Point{}, &GeocodeError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Point{}, &GeocodeError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		return Point{}, &GeocodeError{Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	var out yandexResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Point{}, &GeocodeError{Status: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
	}
	members := out.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return Point{}, &notFoundError{address: address}
	}
	p, err := parsePos(members[0].GeoObject.Point.Pos)
	if err != nil {
		return Point{}, &GeocodeError{Status: resp.StatusCode, Err: err}
	}
	return p, nil
}

// parsePos reads the "lon lat" pair used by the geocoder.
func parsePos(pos string) (Point, error) {
	fields := strings.Fields(pos)
	if len(fields) != 2 {
		return Point{}, fmt.Errorf("unexpected position %q", pos)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("latitude: %w", err)
	}
	return Point{Lon: lon, Lat: lat}, nil
}
