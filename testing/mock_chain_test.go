package testing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockChain(t *testing.T) {
	program := Address(1)
	sig := Signature(2)

	fixtures := `{
		"getSlot": {"": 4242},
		"getSignaturesForAddress": {"` + program + `": [
			{"signature": "` + sig + `", "slot": 4200, "err": null, "blockTime": 1700000000}
		]}
	}`
	path := filepath.Join(t.TempDir(), "fixtures.json")
	require.NoError(t, os.WriteFile(path, []byte(fixtures), 0o600))

	go MockChain(5500, path)

	time.Sleep(time.Second)

	client := rpc.New("http://localhost:5500")

	slot, err := client.GetSlot(context.Background(), rpc.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), slot)

	sigs, err := client.GetSignaturesForAddress(context.Background(), solana.MustPublicKeyFromBase58(program))
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, sig, sigs[0].Signature.String())
	assert.Equal(t, uint64(4200), sigs[0].Slot)
}

func TestMockNodeFailNext(t *testing.T) {
	node := NewMockNode()
	node.SetResult("getSlot", "", 7)
	node.FailNext("getSlot", http.StatusTooManyRequests, "3")

	server := httptest.NewServer(node.Router())
	defer server.Close()

	resp, err := http.Post(server.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"getSlot"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("Retry-After"))

	client := rpc.New(server.URL)
	slot, err := client.GetSlot(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), slot)
	assert.Equal(t, 2, node.Calls("getSlot"))
}

func TestFixtureKeysAreValid(t *testing.T) {
	for n := byte(0); n < 50; n++ {
		_, err := solana.PublicKeyFromBase58(Address(n))
		require.NoError(t, err)
		_, err = solana.SignatureFromBase58(Signature(n))
		require.NoError(t, err)
		assert.Len(t, Signature(n), 88)
	}
	assert.NotEqual(t, Address(1), Address(2))
}
