// Package pipeline implements the module chain-of-responsibility the proxy
// splices itself into: a chain of Modules, each holding an owning link to
// the next, carrying eight HCI channels (outgoing cmd/acl/sco/iso, incoming
// evt/acl/sco/iso) from the service entry point down to the HAL driver
// binding's sink.
package pipeline

// Module is one link in the pipeline. Every method's default behavior (via
// Base) is to forward to the next module; concrete modules override only the
// channels they care about. Implementations must be safe to call from any
// goroutine, since the native driver, the IPC service, and the arbiter's
// sender each deliver on their own goroutine.
type Module interface {
	OutCmd(data []byte)
	OutAcl(data []byte)
	OutSco(data []byte)
	OutIso(data []byte)
	InEvt(data []byte)
	InAcl(data []byte)
	InSco(data []byte)
	InIso(data []byte)
}

// Builder constructs a Module that wraps next, the module adjacent to the
// HAL driver binding. A pipeline is assembled by folding a list of Builders
// tail-to-head around a fixed sink module (spec: "folding the list of
// module builders from tail to head around the sink").
type Builder interface {
	Build(next Module) Module
}

// Build folds builders around sink, tail to head: the last builder wraps
// sink directly, and the first builder's result becomes the pipeline head.
func Build(builders []Builder, sink Module) Module {
	m := sink
	for i := len(builders) - 1; i >= 0; i-- {
		m = builders[i].Build(m)
	}
	return m
}

// Base embeds into a concrete module to get default forwarding for every
// channel it does not override. A module that intercepts only, say, OutCmd
// embeds Base and defines its own OutCmd; every other method is inherited
// unchanged.
type Base struct {
	Next Module
}

func (b Base) OutCmd(data []byte) { b.Next.OutCmd(data) }
func (b Base) OutAcl(data []byte) { b.Next.OutAcl(data) }
func (b Base) OutSco(data []byte) { b.Next.OutSco(data) }
func (b Base) OutIso(data []byte) { b.Next.OutIso(data) }
func (b Base) InEvt(data []byte)  { b.Next.InEvt(data) }
func (b Base) InAcl(data []byte)  { b.Next.InAcl(data) }
func (b Base) InSco(data []byte)  { b.Next.InSco(data) }
func (b Base) InIso(data []byte)  { b.Next.InIso(data) }
