package crypto

import "fmt"

// EncryptSecrets encrypts every value in a graph template's secrets map.
// If key is nil, the map is returned unchanged (encryption disabled).
func EncryptSecrets(secrets map[string]string, key []byte) (map[string]string, error) {
	if key == nil || len(secrets) == 0 {
		return secrets, nil
	}

	out := make(map[string]string, len(secrets))
	for k, v := range secrets {
		enc, err := Encrypt(v, key)
		if err != nil {
			return nil, fmt.Errorf("encrypt secret %q: %w", k, err)
		}
		out[k] = enc
	}

	return out, nil
}

// DecryptSecrets decrypts every value in a graph template's secrets map.
// If key is nil, the map is returned unchanged. Values without the "enc:"
// prefix pass through unchanged (plaintext, e.g. when encryption was
// disabled at write time).
func DecryptSecrets(secrets map[string]string, key []byte) (map[string]string, error) {
	if key == nil || len(secrets) == 0 {
		return secrets, nil
	}

	out := make(map[string]string, len(secrets))
	for k, v := range secrets {
		dec, err := Decrypt(v, key)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %q: %w", k, err)
		}
		out[k] = dec
	}

	return out, nil
}
