package device

import "github.com/nerrad567/exhibit-core/internal/protocol"

// DefaultCatalog returns the factory device catalogue of the exhibition hall.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{ID: "light_001", Name: "Main Hall Lighting", Type: protocol.DeviceTypeLighting},
		{ID: "light_002", Name: "Interactive Zone Lighting", Type: protocol.DeviceTypeLighting},
		{ID: "light_003", Name: "Demo Area Lighting", Type: protocol.DeviceTypeLighting},
		{ID: "light_004", Name: "Corridor Lighting", Type: protocol.DeviceTypeLighting},

		{ID: "computer_001", Name: "Master Control PC", Type: protocol.DeviceTypeComputer},
		{ID: "computer_002", Name: "Display PC 1", Type: protocol.DeviceTypeComputer},
		{ID: "computer_003", Name: "Display PC 2", Type: protocol.DeviceTypeComputer},
		{ID: "computer_004", Name: "Demo PC", Type: protocol.DeviceTypeComputer},

		{ID: "projector_001", Name: "Main Hall Projector", Type: protocol.DeviceTypeProjector},
		{ID: "projector_002", Name: "Interactive Zone Projector", Type: protocol.DeviceTypeProjector},
		{ID: "projector_003", Name: "Demo Area Projector", Type: protocol.DeviceTypeProjector},

		{ID: "exhibit_001", Name: "Water Saving Demonstrator", Type: protocol.DeviceTypeExhibitPower},
		{ID: "exhibit_002", Name: "Interactive Experience Exhibit", Type: protocol.DeviceTypeExhibitPower},
		{ID: "exhibit_003", Name: "Science Display Exhibit", Type: protocol.DeviceTypeExhibitPower},
		{ID: "exhibit_004", Name: "Laboratory Exhibit", Type: protocol.DeviceTypeExhibitPower},
	}
}
