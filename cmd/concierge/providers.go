package main

import (
	"github.com/Strob0t/concierge/internal/adapter/sandbox"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// capabilities lists every provider capability the registry can route to.
// Add real property-management adapters here as they are implemented.
func capabilities() []toolprovider.Capability {
	return sandbox.NewHotel().Capabilities()
}
