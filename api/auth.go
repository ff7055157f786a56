package api

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureHeader carries "<address>:<0x-hex signature>" on authenticated requests.
const SignatureHeader = "X-Factory-Signature"

var (
	// ErrMissingSignature is returned when a request has no signature header.
	ErrMissingSignature = errors.New("missing request signature")

	// ErrInvalidSignature is returned when the signature is malformed or does not match the claimed signer.
	ErrInvalidSignature = errors.New("invalid request signature")
)

// SigningHash is the digest a caller signs: keccak256(method ++ " " ++ path ++ "\n" ++ body).
func SigningHash(method, path string, body []byte) []byte {
	message := make([]byte, 0, len(method)+len(path)+2+len(body))
	message = append(message, method...)
	message = append(message, ' ')
	message = append(message, path...)
	message = append(message, '\n')
	message = append(message, body...)
	return crypto.Keccak256(message)
}

// SignRequest signs req with key and sets SignatureHeader. body must be the exact request body.
func SignRequest(req *http.Request, body []byte, key *ecdsa.PrivateKey) error {
	signature, err := crypto.Sign(SigningHash(req.Method, req.URL.Path, body), key)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	signer := crypto.PubkeyToAddress(key.PublicKey)
	req.Header.Set(SignatureHeader, signer.Hex()+":"+hexutil.Encode(signature))
	return nil
}

// VerifyRequest recovers the signer of r and checks it against the claimed address.
// The request body is restored so later handlers can read it.
func VerifyRequest(r *http.Request) (common.Address, error) {
	header := r.Header.Get(SignatureHeader)
	if header == "" {
		return common.Address{}, ErrMissingSignature
	}

	claimedHex, signatureHex, found := strings.Cut(header, ":")
	if !found || !common.IsHexAddress(claimedHex) {
		return common.Address{}, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	claimed := common.HexToAddress(claimedHex)

	signature, err := hexutil.Decode(signatureHex)
	if err != nil || len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return common.Address{}, fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	pubKey, err := crypto.SigToPub(SigningHash(r.Method, r.URL.Path, body), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if recovered := crypto.PubkeyToAddress(*pubKey); recovered != claimed {
		return common.Address{}, fmt.Errorf("%w: signed by %s, claimed %s", ErrInvalidSignature, recovered.Hex(), claimed.Hex())
	}

	return claimed, nil
}
