package hybridkem

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// TrafficKeySize is the length of the derived traffic key (§4.2: 32 bytes,
// suitable for both ChaCha20-Poly1305 and AES-256-GCM).
const TrafficKeySize = 32

// DeriveTrafficKey runs HKDF-SHA256 over the concatenated DH and KEM
// shared secrets, using the two handshake randoms as the info parameter,
// per §4.2's key schedule: HKDF-SHA256(salt=∅, ikm=sharedX||sharedK,
// info=clientRandom||serverRandom, L=32).
func DeriveTrafficKey(sharedX, sharedK, clientRandom, serverRandom []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(sharedX)+len(sharedK))
	ikm = append(ikm, sharedX...)
	ikm = append(ikm, sharedK...)

	info := make([]byte, 0, len(clientRandom)+len(serverRandom))
	info = append(info, clientRandom...)
	info = append(info, serverRandom...)

	r := hkdf.New(sha256.New, ikm, nil, info)
	key := make([]byte, TrafficKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
