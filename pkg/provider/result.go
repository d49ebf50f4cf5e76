package provider

// Kind classifies the outcome of one Ask call. Every network, transport and
// decoding problem maps to exactly one of these, so callers switch on Kind
// instead of inspecting raw errors.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindUpstreamError
	KindNetworkError
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindUpstreamError:
		return "upstream_error"
	case KindNetworkError:
		return "network_error"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Result is the normalized outcome of a single Ask call. On success Answer
// holds the raw answer text and Reference the optional source payload. On
// failure Status/Detail/Err carry what is known about the cause.
type Result struct {
	Kind      Kind
	Answer    string
	Reference string
	Status    int    // HTTP status, upstream errors only
	Detail    string // extracted error detail, upstream errors only
	Err       error  // underlying error, transport failures only
}

func (r Result) OK() bool {
	return r.Kind == KindSuccess
}
