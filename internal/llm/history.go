package llm

// StripReasoning returns a copy of m without reasoning blocks.
func StripReasoning(m Message) Message {
	out := Message{Role: m.Role, Content: make([]ContentBlock, 0, len(m.Content))}
	for _, b := range m.Content {
		if b.Type != BlockReasoning {
			out.Content = append(out.Content, b)
		}
	}
	return out
}

// SanitizeHistory prepares a stored history for replay. It removes
// every reasoning block, drops tool invocations that have no result in
// the following user message, drops tool results that answer no
// invocation in the preceding assistant message, reorders results to
// invocation order, and removes messages left empty. The input is not
// modified.
func SanitizeHistory(history []Message) []Message {
	stripped := make([]Message, len(history))
	for i, m := range history {
		stripped[i] = StripReasoning(m)
	}

	out := make([]Message, 0, len(stripped))
	for i := 0; i < len(stripped); i++ {
		m := stripped[i]

		if m.Role == RoleAssistant && len(m.ToolInvocations()) > 0 {
			var next *Message
			if i+1 < len(stripped) && stripped[i+1].Role == RoleUser {
				next = &stripped[i+1]
			}
			assistant, user := pairToolBlocks(m, next)
			if len(assistant.Content) > 0 {
				out = append(out, assistant)
			}
			if next != nil {
				if len(user.Content) > 0 {
					out = append(out, user)
				}
				i++
			}
			continue
		}

		if m.Role == RoleUser {
			// Results here did not follow an assistant invocation.
			m = withoutToolResults(m)
		}
		if len(m.Content) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// pairToolBlocks keeps only invocations in assistant that have a result
// in user, and only results in user that answer a kept invocation, with
// results placed in invocation order ahead of any other user content.
func pairToolBlocks(assistant Message, user *Message) (Message, Message) {
	results := map[string]ContentBlock{}
	var rest []ContentBlock
	if user != nil {
		for _, b := range user.Content {
			if b.Type == BlockToolResult {
				if _, dup := results[b.ID]; !dup {
					results[b.ID] = b
				}
				continue
			}
			rest = append(rest, b)
		}
	}

	keptA := Message{Role: RoleAssistant}
	keptU := Message{Role: RoleUser}
	for _, b := range assistant.Content {
		if b.Type != BlockToolInvocation {
			keptA.Content = append(keptA.Content, b)
			continue
		}
		r, ok := results[b.ID]
		if !ok {
			continue
		}
		keptA.Content = append(keptA.Content, b)
		keptU.Content = append(keptU.Content, r)
		delete(results, b.ID)
	}
	keptU.Content = append(keptU.Content, rest...)
	return keptA, keptU
}

func withoutToolResults(m Message) Message {
	out := Message{Role: m.Role}
	for _, b := range m.Content {
		if b.Type != BlockToolResult {
			out.Content = append(out.Content, b)
		}
	}
	return out
}

// Paired reports whether every tool invocation in history is answered,
// in order, by the next message, and no reasoning block is present.
// It is the replay invariant SanitizeHistory establishes.
func Paired(history []Message) bool {
	for i, m := range history {
		for _, b := range m.Content {
			if b.Type == BlockReasoning {
				return false
			}
		}
		inv := m.ToolInvocations()
		if m.Role != RoleAssistant || len(inv) == 0 {
			continue
		}
		if i+1 >= len(history) || history[i+1].Role != RoleUser {
			return false
		}
		var ids []string
		for _, b := range history[i+1].Content {
			if b.Type == BlockToolResult {
				ids = append(ids, b.ID)
			}
		}
		if len(ids) != len(inv) {
			return false
		}
		for j, b := range inv {
			if ids[j] != b.ID {
				return false
			}
		}
	}
	return true
}
