// Package resource defines resource identity, resource values, and the
// process-wide registry that maps a value's type tag to its codec.
//
// Value types register themselves from init functions, so the history cache
// can decode heterogeneous entries without a centrally maintained list:
//
//	func init() {
//		resource.Register(resource.Codec{
//			Tag:     "power.state/1",
//			Decode:  decodePowerState,
//			Default: func() resource.Value { return PowerState{} },
//		})
//	}
//
// Tags carry their own version suffix. Changing a value's binary layout
// means registering a new tag; persisted entries under the old tag then
// fail to decode and are treated as cache misses.
package resource
