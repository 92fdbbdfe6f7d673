package effects

import "fmt"

// ExceptionPayload builds the synthetic error body POSTed to upstream's
// .../error endpoint. A nil msg uses the default placeholder; an explicit
// empty string is sent as-is.
func ExceptionPayload(msg *string) map[string]interface{} {
	text := "Injected exception"
	if msg != nil {
		text = *msg
	}
	return map[string]interface{}{
		"errorMessage": text,
		"errorType":    "FailureLambdaException",
	}
}

// StatusCodePayload builds the synthetic success body POSTed to upstream's
// .../response endpoint. code <= 0 uses the default 500.
func StatusCodePayload(code int) map[string]interface{} {
	if code <= 0 {
		code = 500
	}
	return map[string]interface{}{
		"statusCode": code,
		"headers": map[string]string{
			"Content-Type": "application/json",
		},
		"body": fmt.Sprintf(`{"message":"Injected status code %d"}`, code),
	}
}
