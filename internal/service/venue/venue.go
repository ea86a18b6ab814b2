package venue

import "github.com/krobus00/order-executor/internal/entity"

var (
	GlobalVenueRegistry = make(map[entity.VenueName]entity.Venue)
)

func RegisterVenue(name entity.VenueName, v entity.Venue) {
	GlobalVenueRegistry[name] = v
}

// ByID resolves registered venues into the id-keyed map the router
// consumes.
func ByID() map[string]entity.Venue {
	venues := make(map[string]entity.Venue, len(GlobalVenueRegistry))
	for _, v := range GlobalVenueRegistry {
		venues[v.ID()] = v
	}
	return venues
}
