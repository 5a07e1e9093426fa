package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonMicUnavailable    ReasonCode = "mic_unavailable"
	ReasonSignalUnavailable ReasonCode = "signal_unavailable"

	ReasonChannelConnect   ReasonCode = "channel_connect"
	ReasonChannelSend      ReasonCode = "channel_send"
	ReasonChannelExhausted ReasonCode = "channel_exhausted"
	ReasonServerError      ReasonCode = "server_error"

	ReasonStreamHTTP      ReasonCode = "stream_http"
	ReasonStreamRemote    ReasonCode = "stream_remote"
	ReasonStreamMalformed ReasonCode = "stream_malformed"
	ReasonStreamTransport ReasonCode = "stream_transport"

	ReasonResponderRateLimit ReasonCode = "responder_rate_limit"
	ReasonResponderGenerate  ReasonCode = "responder_generate"

	ReasonTranscribeConnect ReasonCode = "transcribe_connect"
	ReasonTranscribeSend    ReasonCode = "transcribe_send"
)
