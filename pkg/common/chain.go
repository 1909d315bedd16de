package common

// HookChain represents an ordered chain of hooks.
type HookChain []Hook

// NewHookChain creates a new hook chain.
func NewHookChain(hooks ...Hook) HookChain {
	return hooks
}

// Append adds hooks to the end of the chain.
func (c HookChain) Append(hooks ...Hook) HookChain {
	return append(c, hooks...)
}

// Prepend adds hooks to the beginning of the chain.
func (c HookChain) Prepend(hooks ...Hook) HookChain {
	result := make(HookChain, len(hooks)+len(c))
	copy(result, hooks)
	copy(result[len(hooks):], c)
	return result
}

// Concat returns a new chain holding this chain followed by other.
// The result does not alias either input.
func (c HookChain) Concat(other HookChain) HookChain {
	result := make(HookChain, 0, len(c)+len(other))
	result = append(result, c...)
	return append(result, other...)
}

// Run executes the chain in order. It stops early when a hook returns an
// error or sends the reply, returning the error (nil on a send
// short-circuit). The boolean reports whether the chain ran to completion.
func (c HookChain) Run(req *Request, reply *Reply) (bool, error) {
	for _, h := range c {
		if err := h(req, reply); err != nil {
			return false, err
		}
		if reply.Sent() {
			return false, nil
		}
	}
	return true, nil
}
