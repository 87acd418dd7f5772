package ethapi

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	"github.com/drblury/txnode/internal/runtime/jsonrpc"
	"github.com/drblury/txnode/internal/runtime/txerrors"
	"github.com/drblury/txnode/internal/signer"
	"github.com/drblury/txnode/internal/storage/commitment"
	"github.com/drblury/txnode/internal/storage/kv"
	"github.com/drblury/txnode/internal/txpool"
)

const (
	testKey  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	fromAddr = "0x1111111111111111111111111111111111111111"
	toAddr   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type fixture struct {
	api *API
	d   *jsonrpc.Dispatcher
}

func newFixture(t *testing.T, withSigner bool) fixture {
	t.Helper()
	api := &API{
		Pool: txpool.New(kv.NewMemory(), 10),
		Tree: commitment.New(),
	}
	if withSigner {
		s, err := signer.New(testKey)
		require.NoError(t, err)
		api.Signer = s
	}
	reg := jsonrpc.NewRegistry()
	require.NoError(t, api.Register(reg))
	d, err := jsonrpc.NewDispatcher(reg, jsonrpc.DispatcherOptions{
		Mapper:             txerrors.NewCodes(txerrors.DefaultCodeBase),
		Middlewares:        []jsonrpc.MiddlewareRegistration{},
		ExposeInternalData: true,
	})
	require.NoError(t, err)
	return fixture{api: api, d: d}
}

func (f fixture) call(t *testing.T, method, params string) jsonrpc.Response {
	t.Helper()
	payload := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":%s}`, method, params)
	out := f.d.Dispatch(context.Background(), []byte(payload), jsonrpc.Meta{})
	var resp jsonrpc.Response
	require.NoError(t, jsoncodec.Unmarshal(out, &resp), string(out))
	return resp
}

func requireResult(t *testing.T, resp jsonrpc.Response, v any) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	require.NoError(t, jsoncodec.Unmarshal(resp.Result, v))
}

func TestMethodsListing(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, []string{
		"eth_sendTransaction", "personal_ecRecover", "state_getProof", "state_getRoot",
		"state_verifyProof", "txpool_count", "txpool_getHashes",
	}, f.d.Methods())

	withSigner := newFixture(t, true)
	assert.Contains(t, withSigner.d.Methods(), "eth_sign")
}

func TestSendTransactionMissingFrom(t *testing.T) {
	f := newFixture(t, false)
	resp := f.call(t, "eth_sendTransaction", fmt.Sprintf(`[{"nonce":3000,"to":%q}]`, toAddr))
	require.NotNil(t, resp.Error)
	assert.Equal(t, 4001, resp.Error.Code)
	assert.Equal(t, "from is required", resp.Error.Message)
	assert.Nil(t, resp.Error.Data)
}

func TestSendTransactionMissingNonceReportedBeforeTo(t *testing.T) {
	f := newFixture(t, false)
	resp := f.call(t, "eth_sendTransaction", fmt.Sprintf(`[{"from":%q}]`, fromAddr))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "nonce is required", resp.Error.Message)
}

func TestSendTransactionRecordsAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t, false)
	params := fmt.Sprintf(`[{"from":%q,"nonce":"0x1","to":%q,"data":"0xcafe"}]`, fromAddr, toAddr)

	var hash common.Hash
	requireResult(t, f.call(t, "eth_sendTransaction", params), &hash)
	assert.NotEqual(t, common.Hash{}, hash)

	dup := f.call(t, "eth_sendTransaction", params)
	require.NotNil(t, dup.Error)
	assert.Equal(t, 4004, dup.Error.Code)
	assert.Equal(t, fmt.Sprintf("Transaction(%s) has already been used", hash.Hex()), dup.Error.Message)

	var count hexutil.Uint64
	requireResult(t, f.call(t, "txpool_count", `[]`), &count)
	assert.Equal(t, hexutil.Uint64(1), count)

	var hashes []common.Hash
	requireResult(t, f.call(t, "txpool_getHashes", `["0x0", 5]`), &hashes)
	assert.Equal(t, []common.Hash{hash}, hashes)

	requireResult(t, f.call(t, "txpool_getHashes", `{"from":0,"to":1}`), &hashes)
	assert.Equal(t, []common.Hash{hash}, hashes)
}

func TestGetHashesErrors(t *testing.T) {
	f := newFixture(t, false)

	resp := f.call(t, "txpool_getHashes", `[5, 1]`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, 4002, resp.Error.Code)
	assert.Equal(t, "Cannot resolve a range ['5' ... '1']. from must not be greater than to", resp.Error.Message)

	resp = f.call(t, "txpool_getHashes", `[0, 11]`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, 4003, resp.Error.Code)
	assert.Equal(t, "count exceeds maximum value. value: 11, max: 10", resp.Error.Message)

	resp = f.call(t, "txpool_getHashes", `[0]`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
}

func TestEcRecover(t *testing.T) {
	f := newFixture(t, true)
	msg := hexutil.Bytes("hello")
	sig, err := f.api.Signer.Sign(msg)
	require.NoError(t, err)

	var addr common.Address
	requireResult(t, f.call(t, "personal_ecRecover", fmt.Sprintf(`[%q, %q]`, msg.String(), hexutil.Encode(sig))), &addr)
	assert.Equal(t, f.api.Signer.Address(), addr)

	resp := f.call(t, "personal_ecRecover", fmt.Sprintf(`{"data":%q,"signature":"0x0102"}`, msg.String()))
	require.NotNil(t, resp.Error)
	assert.Equal(t, 4005, resp.Error.Code)
	assert.Equal(t, "Signature(0x0102) is invalid", resp.Error.Message)
}

func TestSign(t *testing.T) {
	f := newFixture(t, true)
	address := f.api.Signer.Address().Hex()

	var sig hexutil.Bytes
	requireResult(t, f.call(t, "eth_sign", fmt.Sprintf(`[%q, "0x68656c6c6f"]`, address)), &sig)
	recovered, err := signer.Recover([]byte("hello"), sig)
	require.NoError(t, err)
	assert.Equal(t, f.api.Signer.Address(), recovered)

	resp := f.call(t, "eth_sign", fmt.Sprintf(`[%q, "0x00"]`, fromAddr))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, resp.Error.Code)
	assert.Equal(t, txerrors.InternalMessage, resp.Error.Message)
}

func TestSignNotRegisteredWithoutKey(t *testing.T) {
	f := newFixture(t, false)
	resp := f.call(t, "eth_sign", fmt.Sprintf(`[%q, "0x00"]`, fromAddr))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, resp.Error.Code)
}

func TestStateProofs(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.api.Tree.Put([]byte{0x01}, []byte{0x01}))
	require.NoError(t, f.api.Tree.Put([]byte{0x02}, []byte{0x02}))

	var root common.Hash
	requireResult(t, f.call(t, "state_getRoot", `[]`), &root)
	assert.Equal(t, f.api.Tree.Root(), root)

	var proof *StateProof
	requireResult(t, f.call(t, "state_getProof", `["0x01"]`), &proof)
	require.NotNil(t, proof)
	assert.Equal(t, root, proof.Witness.Root)

	encoded, err := jsoncodec.Marshal(proof)
	require.NoError(t, err)

	var ok bool
	requireResult(t, f.call(t, "state_verifyProof", "["+string(encoded)+"]"), &ok)
	assert.True(t, ok)
	requireResult(t, f.call(t, "state_verifyProof", string(encoded)), &ok)
	assert.True(t, ok)

	proof.Witness.Value = common.BytesToHash([]byte{0x09})
	tampered, err := jsoncodec.Marshal(proof)
	require.NoError(t, err)
	resp := f.call(t, "state_verifyProof", "["+string(tampered)+"]")
	require.NotNil(t, resp.Error)
	assert.Equal(t, 4005, resp.Error.Code)
	assert.Equal(t, fmt.Sprintf("StateProof(%s) is invalid", root.Hex()), resp.Error.Message)

	var missing *StateProof
	requireResult(t, f.call(t, "state_getProof", `["0x03"]`), &missing)
	assert.Nil(t, missing)

	resp = f.call(t, "state_getProof", fmt.Sprintf(`[%q]`, hexutil.Encode(make([]byte, 33))))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
}

func TestVerifyProofRejectsWrongLeafCount(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.api.Tree.Put([]byte{byte(i)}, []byte{byte(i + 1)}))
	}

	var proof *StateProof
	requireResult(t, f.call(t, "state_getProof", `["0x00"]`), &proof)
	require.NotNil(t, proof)
	proof.Proof.Leaves = 3

	encoded, err := jsoncodec.Marshal(proof)
	require.NoError(t, err)
	resp := f.call(t, "state_verifyProof", "["+string(encoded)+"]")
	require.NotNil(t, resp.Error)
	assert.Equal(t, txerrors.DefaultCodeBase+txerrors.OffsetInvalidProof, resp.Error.Code)
	assert.Nil(t, resp.Result)
}
