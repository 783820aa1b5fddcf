package session

import "strings"

const (
	userServer  = "c.us"
	groupServer = "g.us"
)

// DecomposeChatID strips any server suffix and leading plus from an id,
// leaving the bare phone number or group id.
func DecomposeChatID(id string) string {
	if strings.ContainsRune(id, '@') {
		id = strings.SplitN(id, "@", 2)[0]
	}
	if len(id) > 0 && id[0] == '+' {
		id = id[1:]
	}
	return id
}

// ComposeChatID normalizes a phone number or group id into the wire chat id
// the page expects. Group ids carry a hyphen or run long; everything else is
// treated as a user.
func ComposeChatID(id string) string {
	if strings.HasSuffix(id, "@"+userServer) || strings.HasSuffix(id, "@"+groupServer) {
		return id
	}
	bare := DecomposeChatID(id)
	if strings.ContainsRune(bare, '-') || len(bare) >= 18 {
		return bare + "@" + groupServer
	}
	return bare + "@" + userServer
}

// IsGroupChatID reports whether the id addresses a group.
func IsGroupChatID(id string) bool {
	return strings.HasSuffix(ComposeChatID(id), "@"+groupServer)
}
