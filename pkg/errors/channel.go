package errors

// ChannelError is a specialized error type for channel-engine operations.
// It embeds baseError to inherit the standard error functionality, then adds
// the context a caller needs to understand which channel operation failed and
// for which record: the channel name, the record index, and the timestamp
// involved. This context is essential for diagnosing retention races, ordering
// violations, and coverage gaps.
type ChannelError struct {
	*baseError
	channel   string // Name of the channel the operation targeted.
	operation string // Which operation was being performed (append, read, find...).
	index     int32  // Record index involved, if any.
	time      int64  // Record timestamp involved, if any, in microseconds.
}

// NewChannelError creates a new channel-specific error.
func NewChannelError(err error, code ErrorCode, msg string) *ChannelError {
	return &ChannelError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the ChannelError type.
func (ce *ChannelError) WithMessage(msg string) *ChannelError {
	ce.baseError.WithMessage(msg)
	return ce
}

// WithDetail adds contextual information while maintaining the ChannelError type.
func (ce *ChannelError) WithDetail(key string, value any) *ChannelError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithChannel sets which channel the failed operation targeted.
func (ce *ChannelError) WithChannel(name string) *ChannelError {
	ce.channel = name
	return ce
}

// WithOperation records which operation was being performed.
func (ce *ChannelError) WithOperation(op string) *ChannelError {
	ce.operation = op
	return ce
}

// WithIndex records the record index involved in the failure.
func (ce *ChannelError) WithIndex(index int32) *ChannelError {
	ce.index = index
	return ce
}

// WithTime records the timestamp involved in the failure.
func (ce *ChannelError) WithTime(time int64) *ChannelError {
	ce.time = time
	return ce
}

// Channel returns the name of the channel the operation targeted.
func (ce *ChannelError) Channel() string {
	return ce.channel
}

// Operation returns which operation was being performed.
func (ce *ChannelError) Operation() string {
	return ce.operation
}

// Index returns the record index involved in the failure.
func (ce *ChannelError) Index() int32 {
	return ce.index
}

// Time returns the timestamp involved in the failure.
func (ce *ChannelError) Time() int64 {
	return ce.time
}
