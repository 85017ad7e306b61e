package domain

// RegistryStats is a point-in-time snapshot of the SFU registry, exposed
// through the stats endpoint and the prometheus collector.
type RegistryStats struct {
	ActiveRooms     int `json:"active_rooms"`
	ActiveSessions  int `json:"active_sessions"`
	ActiveProducers int `json:"active_producers"`
}
