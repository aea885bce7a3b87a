package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/tickettoken/ticket-indexer/boff"
)

type PostToChain struct {
	Method  string        `json:"method"`
	Id      int           `json:"id"`
	Jsonrpc string        `json:"jsonrpc"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type signatureEntry struct {
	Signature string `json:"signature"`
}

// CopyChain records the latest signatures of program together with the
// transactions they point to, in the format served by testing.MockChain.
func CopyChain(ctx context.Context, address, program string, limit int) (map[string]map[string]json.RawMessage, error) {
	client := &http.Client{}
	call := func(method string, params ...interface{}) (json.RawMessage, error) {
		return boff.Retry[json.RawMessage](ctx, func(ctx context.Context) (json.RawMessage, error) {
			return callOnce(ctx, client, address, method, params...)
		}, boff.HTTPOptions())
	}
	fixtures := map[string]map[string]json.RawMessage{
		"getSignaturesForAddress": {},
		"getTransaction":          {},
	}

	sigs, err := call("getSignaturesForAddress", program, map[string]interface{}{"limit": limit})
	if err != nil {
		return nil, err
	}
	fixtures["getSignaturesForAddress"][program] = sigs

	var entries []signatureEntry
	if err := json.Unmarshal(sigs, &entries); err != nil {
		return nil, errors.Wrap(err, "decode signatures")
	}

	for _, e := range entries {
		tx, err := call("getTransaction", e.Signature, map[string]interface{}{
			"encoding":                       "base64",
			"maxSupportedTransactionVersion": 0,
		})
		if err != nil {
			return nil, err
		}
		fixtures["getTransaction"][e.Signature] = tx
	}

	return fixtures, nil
}

func callOnce(ctx context.Context, client *http.Client, address, method string, params ...interface{}) (json.RawMessage, error) {
	req := PostToChain{Method: method, Id: 31337, Jsonrpc: "2.0", Params: params}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, err
	}
	r.Close = true
	r.Header.Add("Content-Type", "application/json")
	res, err := client.Do(r)
	if err != nil {
		return nil, err
	}

	defer func() {
		err := res.Body.Close()
		if err != nil {
			fmt.Println("Error closing response body:", err)
		}
	}()

	if res.StatusCode != http.StatusOK {
		return nil, &boff.StatusError{
			StatusCode: res.StatusCode,
			Header:     res.Header,
			Err:        errors.Errorf("error response %d for %s", res.StatusCode, method),
		}
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %s", method)
	}

	var resp rpcResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, errors.Wrapf(err, "decode %s", method)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		rpcErr := &boff.JSONRPCError{}
		if err := json.Unmarshal(resp.Error, rpcErr); err != nil {
			return nil, errors.Errorf("%s failed: %s", method, resp.Error)
		}
		return nil, errors.Wrap(rpcErr, method)
	}
	return resp.Result, nil
}

// Copies the recent history of a program from a running node so that it can
// be replayed by the mock node.
func main() {
	node := flag.String("node", "http://localhost:8899", "Solana RPC node")
	program := flag.String("program", "", "Program address")
	limit := flag.Int("limit", 100, "Number of signatures to copy")
	out := flag.String("out", "fixtures.json", "Output file")
	flag.Parse()

	fixtures, err := CopyChain(context.Background(), *node, *program, *limit)
	if err != nil {
		fmt.Println(err)
		panic(err)
	}

	content, err := json.Marshal(fixtures)
	if err != nil {
		fmt.Println(err)
		panic(err)
	}
	err = os.WriteFile(*out, content, 0644)
	if err != nil {
		fmt.Println(err)
		panic(err)
	}
}
