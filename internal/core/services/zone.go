package services

import "zonecast/internal/core/domain"

// ResolveZone maps a position to the id of the first zone (in input
// order) whose rectangle contains it. An empty id means the point lies
// in the shared public area. Pure and safe to call at any frequency.
func ResolveZone(pos domain.Position, zones []domain.Zone) domain.ZoneID {
	for _, zone := range zones {
		if zone.Bounds.Contains(pos) {
			return zone.ID
		}
	}
	return ""
}

// CoResident reports whether two positions resolve to the same zone,
// counting "both outside every zone" as co-resident.
func CoResident(a, b domain.Position, zones []domain.Zone) bool {
	return ResolveZone(a, zones) == ResolveZone(b, zones)
}
