package answerflow

import "errors"

// Sentinel errors for the error kinds of §7 that don't already have a
// home in a collaborator package (validator.ErrValidatorFailed,
// templatecache.ErrUpstreamUnavailable, ttsclient.ErrTTSFailed).
var (
	ErrBadRequest         = errors.New("answerflow: bad request")
	ErrKMFailed           = errors.New("answerflow: km retrieval failed")
	ErrLLMFailed          = errors.New("answerflow: llm generation failed")
	ErrClientDisconnected = errors.New("answerflow: client disconnected")
)
