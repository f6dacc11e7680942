package astifilter

const (
	DeltaStatNameHostUsage         = "astifilter.host.usage"
	DeltaStatNameIncomingByteRate  = "astifilter.incoming.byte_rate"
	DeltaStatNameIncomingRate      = "astifilter.incoming.rate"
	DeltaStatNameOutgoingByteRate  = "astifilter.outgoing.byte_rate"
	DeltaStatNameOutgoingRate      = "astifilter.outgoing.rate"
	DeltaStatNameProcessedByteRate = "astifilter.processed.byte_rate"
	DeltaStatNameProcessedRate     = "astifilter.processed.rate"
)

type DeltaStatHostUsageValue struct {
	CPU    DeltaStatHostCPUUsageValue    `json:"cpu"`
	Memory DeltaStatHostMemoryUsageValue `json:"memory"`
}

type DeltaStatHostCPUUsageValue struct {
	Individual []float64 `json:"individual"`
	Process    *float64  `json:"process,omitempty"`
	Total      float64   `json:"total"`
}

type DeltaStatHostMemoryUsageValue struct {
	Resident uint64 `json:"resident"`
	Total    uint64 `json:"total"`
	Used     uint64 `json:"used"`
	Virtual  uint64 `json:"virtual"`
}
