package telemetry

type Kind string

const (
	KindLocation Kind = "location"
	KindStatus   Kind = "status"
	KindEvent    Kind = "event"
)

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusIdle         Status = "IDLE"
	StatusMaintenance  Status = "MAINTENANCE"
	StatusOutOfService Status = "OUT_OF_SERVICE"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusIdle, StatusMaintenance, StatusOutOfService:
		return true
	}
	return false
}

func AllStatuses() []Status {
	return []Status{StatusActive, StatusIdle, StatusMaintenance, StatusOutOfService}
}

type EngineStatus string

const (
	EngineOn    EngineStatus = "ON"
	EngineOff   EngineStatus = "OFF"
	EngineError EngineStatus = "ERROR"
)

func ValidEngineStatus(s EngineStatus) bool {
	switch s {
	case EngineOn, EngineOff, EngineError:
		return true
	}
	return false
}

type EventType string

const (
	EventTripStarted    EventType = "TRIP_STARTED"
	EventTripCompleted  EventType = "TRIP_COMPLETED"
	EventMaintenanceDue EventType = "MAINTENANCE_DUE"
	EventIdleStarted    EventType = "IDLE_STARTED"
	EventIdleEnded      EventType = "IDLE_ENDED"
	EventGeofenceEnter  EventType = "GEOFENCE_ENTER"
	EventGeofenceExit   EventType = "GEOFENCE_EXIT"
	EventBatteryLow     EventType = "BATTERY_LOW"
	EventFuelLow        EventType = "FUEL_LOW"
)

func ValidEventType(t EventType) bool {
	switch t {
	case EventTripStarted, EventTripCompleted, EventMaintenanceDue,
		EventIdleStarted, EventIdleEnded,
		EventGeofenceEnter, EventGeofenceExit,
		EventBatteryLow, EventFuelLow:
		return true
	}
	return false
}
