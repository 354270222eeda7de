package operation

import (
	"fmt"
	"slices"

	"github.com/roach88/kestrel/internal/resource"
)

// Daemon is a reactive operation. Whenever a scheduled (non-daemon)
// operation changes the value of a subscribed resource, the engine
// instantiates Op at the trigger's instant, directly after the trigger.
// Writes made by daemons never trigger daemons.
type Daemon struct {
	Name          string
	Subscriptions []resource.ID
	Op            Operation
}

// Subscribes reports whether d reacts to writes of id.
func (d Daemon) Subscribes(id resource.ID) bool {
	return slices.Contains(d.Subscriptions, id)
}

// Validate checks the daemon's declarations.
func (d Daemon) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("daemon has empty name")
	}
	if len(d.Subscriptions) == 0 {
		return fmt.Errorf("daemon %s subscribes to nothing", d.Name)
	}
	if d.Op == nil {
		return fmt.Errorf("daemon %s has no operation", d.Name)
	}
	for _, w := range d.Op.Downstreams() {
		if w.Mode == Exclusive {
			return fmt.Errorf("daemon %s: reactive writes are always ordered, %s is exclusive", d.Name, w.Resource)
		}
	}
	return Validate(d.Op)
}
