package httpclient

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inlethq/inlet/internal/util"
)

func TestValidateURL(t *testing.T) {
	client := New(5 * time.Second)

	t.Run("accepts public https URLs", func(t *testing.T) {
		u, err := client.ValidateURL("https://api.example.com/v1/leads")
		require.NoError(t, err)
		assert.Equal(t, "api.example.com", u.Hostname())
	})

	t.Run("rejects non-http schemes", func(t *testing.T) {
		_, err := client.ValidateURL("file:///etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("rejects localhost", func(t *testing.T) {
		_, err := client.ValidateURL("http://localhost:8080/records")
		require.Error(t, err)
	})

	t.Run("rejects private IPs", func(t *testing.T) {
		_, err := client.ValidateURL("http://192.168.1.10/records")
		require.Error(t, err)
	})

	t.Run("allows private hosts when blocking disabled", func(t *testing.T) {
		open := NewWithOptions(5*time.Second, Options{BlockPrivateIP: util.Ptr(false)})
		_, err := open.ValidateURL("http://127.0.0.1:9000/records")
		require.NoError(t, err)
	})
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP(net.ParseIP("10.1.2.3")))
	assert.True(t, isPrivateIP(net.ParseIP("172.20.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("127.0.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("169.254.10.10")))
	assert.False(t, isPrivateIP(net.ParseIP("8.8.8.8")))
	assert.False(t, isPrivateIP(net.ParseIP("93.184.216.34")))
}
