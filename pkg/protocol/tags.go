package protocol

// Tag prefixes an in-band error line.
type Tag string

const (
	// TagTooManyItems rejects a request over the item ceiling.
	TagTooManyItems Tag = "-- 403 FORBIDDEN --"

	// TagUnprocessable rejects a malformed request, an unknown field or an unknown list.
	TagUnprocessable Tag = "-- 422 UNPROCESSABLE CONTENT --"

	// TagBadGateway reports an upstream fetch failure.
	TagBadGateway Tag = "-- 502 BAD GATEWAY --"

	// TagInternal reports a fault inside the pipeline itself.
	TagInternal Tag = "-- 500 INTERNAL SERVER ERROR --"
)

// ErrorLine renders err as a tagged error line.
func ErrorLine(tag Tag, err error) string {
	if err == nil {
		return string(tag)
	}
	return string(tag) + " " + err.Error()
}
