package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultIdentityMethod is the getter queried on freshly deployed instances.
const DefaultIdentityMethod = "erc20"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// IdentityQuery encodes and decodes a parameterless view call returning an address.
type IdentityQuery struct {
	abi    abi.ABI
	method string
}

// NewIdentityQuery builds the query for `function <method>() view returns (address)`.
func NewIdentityQuery(method string) (*IdentityQuery, error) {
	if method == "" {
		method = DefaultIdentityMethod
	}
	if !identifierPattern.MatchString(method) {
		return nil, fmt.Errorf("invalid identity method name %q", method)
	}

	definition := fmt.Sprintf(`[{"type":"function","name":%q,"stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}]`, method)
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return nil, fmt.Errorf("could not build identity ABI: %w", err)
	}

	return &IdentityQuery{abi: parsed, method: method}, nil
}

// Method returns the getter name.
func (q *IdentityQuery) Method() string {
	return q.method
}

// Calldata returns the 4-byte selector call for the getter.
func (q *IdentityQuery) Calldata() ([]byte, error) {
	return q.abi.Pack(q.method)
}

// Decode parses the getter's return data.
func (q *IdentityQuery) Decode(ret []byte) (common.Address, error) {
	out, err := q.abi.Unpack(q.method, ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("malformed %s() response: %w", q.method, err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("malformed %s() response: %d values", q.method, len(out))
	}

	identity, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("identity getter did not return an address")
	}
	return identity, nil
}
