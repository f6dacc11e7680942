package astifilter

import "errors"

var (
	// ErrEOS reports clean stream-level completion, as opposed to a hard
	// failure: callers must be able to distinguish "ended" from "errored".
	ErrEOS = errors.New("astifilter: end of stream")
	// ErrNotSupported reports a capability mismatch or an unsupported
	// format/codec at configure time. The filter stays inert for that pin.
	ErrNotSupported = errors.New("astifilter: not supported")
	// ErrNonCompliantInput reports a malformed source. The filter doesn't
	// retry automatically, the session decides whether to tear the branch down.
	ErrNonCompliantInput = errors.New("astifilter: non compliant input")
	// ErrResource reports an allocation failure opening a collaborator.
	// Fatal for the filter instance.
	ErrResource = errors.New("astifilter: resource error")
	// ErrTransientBackend reports a single failed submit/encode/decode call.
	// The offending input packet is dropped and processing continues.
	ErrTransientBackend = errors.New("astifilter: transient backend error")
	// ErrRequiresNewInstance reports that a filter supporting only one input
	// source was asked to accept a second. The session must instantiate a
	// fresh filter rather than erroring the pipeline.
	ErrRequiresNewInstance = errors.New("astifilter: requires new instance")
)
