package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is any accepted telemetry record. Records are immutable once
// decoded; the cache keeps one latest slot per (asset, kind) and the
// history store appends every record.
type Record interface {
	Asset() string
	RecordKind() Kind
	At() time.Time
}

type Position struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

func (p Position) Validate() error {
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", p.Longitude)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", p.Latitude)
	}
	return nil
}

type LocationRecord struct {
	AssetID   string         `json:"assetId"`
	Timestamp Timestamp      `json:"timestamp"`
	Longitude float64        `json:"longitude"`
	Latitude  float64        `json:"latitude"`
	Speed     float64        `json:"speed"`
	Heading   float64        `json:"heading"`
	Altitude  float64        `json:"altitude"`
	Accuracy  float64        `json:"accuracy"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (r *LocationRecord) Asset() string    { return r.AssetID }
func (r *LocationRecord) RecordKind() Kind { return KindLocation }
func (r *LocationRecord) At() time.Time    { return r.Timestamp.Time }

func (r *LocationRecord) Position() Position {
	return Position{Longitude: r.Longitude, Latitude: r.Latitude}
}

func (r *LocationRecord) Validate() error {
	if strings.TrimSpace(r.AssetID) == "" {
		return errors.New("assetId is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if err := r.Position().Validate(); err != nil {
		return err
	}
	if r.Speed < 0 {
		return fmt.Errorf("speed %v must be >= 0", r.Speed)
	}
	if r.Heading < 0 || r.Heading > 360 {
		return fmt.Errorf("heading %v out of range [0,360]", r.Heading)
	}
	return nil
}

type StatusRecord struct {
	AssetID      string         `json:"assetId"`
	Timestamp    Timestamp      `json:"timestamp"`
	Status       Status         `json:"status"`
	FuelLevel    *float64       `json:"fuelLevel,omitempty"`
	BatteryLevel *float64       `json:"batteryLevel,omitempty"`
	EngineStatus EngineStatus   `json:"engineStatus,omitempty"`
	Odometer     float64        `json:"odometer"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (r *StatusRecord) Asset() string    { return r.AssetID }
func (r *StatusRecord) RecordKind() Kind { return KindStatus }
func (r *StatusRecord) At() time.Time    { return r.Timestamp.Time }

func (r *StatusRecord) Validate() error {
	if strings.TrimSpace(r.AssetID) == "" {
		return errors.New("assetId is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if !ValidStatus(r.Status) {
		return fmt.Errorf("status %q not in enumeration", r.Status)
	}
	if r.FuelLevel != nil && (*r.FuelLevel < 0 || *r.FuelLevel > 100) {
		return fmt.Errorf("fuelLevel %v out of range [0,100]", *r.FuelLevel)
	}
	if r.BatteryLevel != nil && (*r.BatteryLevel < 0 || *r.BatteryLevel > 100) {
		return fmt.Errorf("batteryLevel %v out of range [0,100]", *r.BatteryLevel)
	}
	if r.EngineStatus != "" && !ValidEngineStatus(r.EngineStatus) {
		return fmt.Errorf("engineStatus %q not in enumeration", r.EngineStatus)
	}
	if r.Odometer < 0 {
		return fmt.Errorf("odometer %v must be >= 0", r.Odometer)
	}
	return nil
}

type TripInfo struct {
	TripID        string     `json:"tripId"`
	StartTime     *Timestamp `json:"startTime,omitempty"`
	EndTime       *Timestamp `json:"endTime,omitempty"`
	StartPosition *Position  `json:"startPosition,omitempty"`
	EndPosition   *Position  `json:"endPosition,omitempty"`
	DistanceKM    float64    `json:"distanceKm"`
	DurationSec   float64    `json:"durationSeconds"`
}

type DomainEvent struct {
	AssetID     string         `json:"assetId"`
	Timestamp   Timestamp      `json:"timestamp"`
	EventType   EventType      `json:"eventType"`
	Description string         `json:"description,omitempty"`
	TripInfo    *TripInfo      `json:"tripInfo,omitempty"`
	Position    *Position      `json:"position,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (e *DomainEvent) Asset() string    { return e.AssetID }
func (e *DomainEvent) RecordKind() Kind { return KindEvent }
func (e *DomainEvent) At() time.Time    { return e.Timestamp.Time }

func (e *DomainEvent) Validate() error {
	if strings.TrimSpace(e.AssetID) == "" {
		return errors.New("assetId is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if !ValidEventType(e.EventType) {
		return fmt.Errorf("eventType %q not in enumeration", e.EventType)
	}
	if e.Position != nil {
		if err := e.Position.Validate(); err != nil {
			return err
		}
	}
	return nil
}
