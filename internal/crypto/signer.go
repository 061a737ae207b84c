package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Header names carrying a signed administrative request.
const (
	HeaderCaller    = "X-Flasharb-Caller"
	HeaderTimestamp = "X-Flasharb-Timestamp"
	HeaderSignature = "X-Flasharb-Signature"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	adminRequestTypeHash = ethcrypto.Keccak256(
		[]byte("AdminRequest(address caller,string method,string path,bytes32 bodyHash,uint256 timestamp)"),
	)
)

var (
	ErrBadSignature   = errors.New("crypto: signature does not match caller")
	ErrStaleTimestamp = errors.New("crypto: request timestamp outside allowed skew")
)

// AdminRequest is the typed message an operator signs to prove who is
// calling a mutating endpoint. The body is bound through its keccak hash.
type AdminRequest struct {
	Caller    common.Address
	Method    string
	Path      string
	BodyHash  common.Hash
	Timestamp int64
}

// NewAdminRequest builds the message for one HTTP call.
func NewAdminRequest(caller common.Address, method, path string, body []byte, ts time.Time) AdminRequest {
	return AdminRequest{
		Caller:    caller,
		Method:    strings.ToUpper(method),
		Path:      path,
		BodyHash:  BodyHash(body),
		Timestamp: ts.Unix(),
	}
}

// BodyHash is the keccak256 of a request body as bound into AdminRequest.
func BodyHash(body []byte) common.Hash {
	return ethcrypto.Keccak256Hash(body)
}

func (r AdminRequest) structHash() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			adminRequestTypeHash,
			common.LeftPadBytes(r.Caller.Bytes(), 32),
			ethcrypto.Keccak256([]byte(r.Method)),
			ethcrypto.Keccak256([]byte(r.Path)),
			r.BodyHash.Bytes(),
			bigIntTo32Bytes(big.NewInt(r.Timestamp)),
		),
	)
}

// Domain is the EIP-712 domain requests are signed under.
type Domain struct {
	sep []byte
}

// NewDomain returns the flasharb domain for chainID.
func NewDomain(chainID int64) Domain {
	return Domain{sep: ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte("flasharb")),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)}
}

// Digest returns keccak256("\x19\x01" || domainSeparator || structHash).
func (d Domain) Digest(r AdminRequest) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, d.sep, r.structHash()))
}

// RequestSigner signs administrative requests with an operator key.
type RequestSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     Domain
}

// NewRequestSigner creates a signer from a hex secp256k1 key.
func NewRequestSigner(privateKeyHex string, chainID int64) (*RequestSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &RequestSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domain:     NewDomain(chainID),
	}, nil
}

// Address is the caller identity the signer proves.
func (s *RequestSigner) Address() common.Address { return s.address }

// Sign returns the 0x-prefixed 65-byte signature (v in {27,28}) for a
// request issued at ts.
func (s *RequestSigner) Sign(method, path string, body []byte, ts time.Time) (string, error) {
	req := NewAdminRequest(s.address, method, path, body, ts)
	sig, err := ethcrypto.Sign(s.domain.Digest(req), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Headers returns the three request headers for a signed call.
func (s *RequestSigner) Headers(method, path string, body []byte, ts time.Time) (map[string]string, error) {
	sig, err := s.Sign(method, path, body, ts)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderCaller:    s.address.Hex(),
		HeaderTimestamp: fmt.Sprintf("%d", ts.Unix()),
		HeaderSignature: sig,
	}, nil
}

// Verifier checks signed requests against a domain and a clock skew.
type Verifier struct {
	domain  Domain
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier returns a Verifier. now may be nil for the wall clock.
func NewVerifier(chainID int64, maxSkew time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{domain: NewDomain(chainID), maxSkew: maxSkew, now: now}
}

// Verify recovers the signer of req and checks it is req.Caller and that
// the timestamp is within the allowed skew.
func (v *Verifier) Verify(req AdminRequest, sigHex string) error {
	skew := v.now().Sub(time.Unix(req.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.maxSkew > 0 && skew > v.maxSkew {
		return ErrStaleTimestamp
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(v.domain.Digest(req), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != req.Caller {
		return ErrBadSignature
	}
	return nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
