package cachestatus

import "fmt"

// Name identifies this cache in the Cache-Status header.
const Name = "Stupid-Simple-Cache"

type Status string

const (
	Hit Status = "hit"
	Fwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any response for the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response for the request URI, but it was stale.
	FwdReasonStale FwdReason = "stale"
)

// CacheStatus describes how the cache handled a request.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = Hit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = Fwd
	cs.FwdReason = reason
}

// String returns the Cache-Status header field value.
func (cs CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", Name, cs.Status)
	if cs.Status == Fwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status = status + "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}
