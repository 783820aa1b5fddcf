package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalStorageSeedScript(t *testing.T) {
	script := localStorageSeedScript(map[string]string{
		"WASecretBundle": `{"key":"abc"}`,
		"WAToken1":       "tok1",
	})

	// The script runs on every new document; it must stay inert until the
	// page actually reaches the WhatsApp origin.
	assert.Contains(t, script, `location.hostname.endsWith('whatsapp.com')`)

	// Keys the page already wrote win over the snapshot.
	assert.Contains(t, script, `localStorage.getItem(key) === null`)

	assert.Contains(t, script, `"WASecretBundle":"{\"key\":\"abc\"}"`)
	assert.Contains(t, script, `"WAToken1":"tok1"`)
}
