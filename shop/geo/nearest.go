package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

// ErrNoFacilities is returned when there is nothing to choose from.
var ErrNoFacilities = errors.New("geo: no facilities")

// Facility field names in the pizzeria flow.
const (
	FieldAddress       = "Address"
	FieldAlias         = "Alias"
	FieldLongitude     = "Longitude"
	FieldLatitude      = "Latitude"
	FieldDeliveryAgent = "DeliverymanID"
)

// Facility is a pizzeria with coordinates and the chat id of its courier.
type Facility struct {
	ID            string
	Address       string
	Alias         string
	Point         Point
	DeliveryAgent string
}

// FacilityFromFields builds a facility from a flow entry.
func FacilityFromFields(id string, fields map[string]string) (Facility, error) {
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[FieldLongitude]), 64)
	if err != nil {
		return Facility{}, fmt.Errorf("facility %s longitude: %w", id, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[FieldLatitude]), 64)
	if err != nil {
		return Facility{}, fmt.Errorf("facility %s latitude: %w", id, err)
	}
	return Facility{
		ID:            id,
		Address:       fields[FieldAddress],
		Alias:         fields[FieldAlias],
		Point:         Point{Lon: lon, Lat: lat},
		DeliveryAgent: fields[FieldDeliveryAgent],
	}, nil
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	la := s2.LatLngFromDegrees(a.Lat, a.Lon)
	lb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return la.Distance(lb).Radians() * EarthRadiusKm
}

// Nearest returns the facility closest to p and its distance in km.
// Under equal distance the first facility wins.
func Nearest(p Point, facilities []Facility) (Facility, float64, error) {
	if len(facilities) == 0 {
		return Facility{}, 0, ErrNoFacilities
	}
	best := facilities[0]
	bestKm := DistanceKm(p, best.Point)
	for _, f := range facilities[1:] {
		if d := DistanceKm(p, f.Point); d < bestKm {
			best, bestKm = f, d
		}
	}
	return best, bestKm, nil
}

// Tier is the delivery offer for a distance.
type Tier struct {
	// Cost is the delivery price in whole currency units.
	Cost          int64
	PickupOffered bool
	OutOfRange    bool
}

// Shipping maps a distance to its delivery tier. Boundaries belong to the cheaper tier.
func Shipping(distanceKm float64) Tier {
	switch {
	case distanceKm <= 0.5:
		return Tier{Cost: 0, PickupOffered: true}
	case distanceKm <= 5:
		return Tier{Cost: 100}
	case distanceKm <= 20:
		return Tier{Cost: 300}
	default:
		return Tier{OutOfRange: true}
	}
}
