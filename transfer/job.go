package transfer

// Descriptor is the per-file payload handed to a backend bulk submission.
type Descriptor struct {
	Sources      []string           `json:"sources"`
	Destinations []string           `json:"destinations"`
	Metadata     DescriptorMetadata `json:"metadata"`
}

// DescriptorMetadata is resolved from the hop and the endpoint attribute store.
type DescriptorMetadata struct {
	SrcRSE           string    `json:"src_rse"`
	DstRSE           string    `json:"dst_rse"`
	Scope            string    `json:"scope"`
	Name             string    `json:"name"`
	SourceEndpointID string    `json:"source_globus_endpoint_id"`
	DestEndpointID   string    `json:"dest_globus_endpoint_id"`
	Filesize         int64     `json:"filesize"`
	RequestID        RequestID `json:"request_id"`
}

// SubmissionJob is one bounded batch of transfers sent in a single backend
// call. JobParams is unused by this tool but kept so callers can treat every
// transfer tool alike.
type SubmissionJob struct {
	Transfers []Hop
	JobParams map[string]string
}
