package pool

import (
	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

// VerifyFeed checks an armored detached OpenPGP signature over a feed
// file's contents.  It returns the hex key ID of the verifying key.
func VerifyFeed(data, signature, armoredKey []byte) (string, error) {
	publicKey, err := crypto.NewKeyFromArmored(string(armoredKey))
	if err != nil {
		return "", errors.Wrap(err, "failed to parse PGP key")
	}

	verifier, err := crypto.PGP().Verify().VerificationKey(publicKey).New()
	if err != nil {
		return "", errors.Wrap(err, "failed to create verifier")
	}

	verifyResult, err := verifier.VerifyDetached(data, signature, crypto.Armor)
	if err != nil {
		return "", errors.Wrap(err, "PGP signature verification failed for feed")
	}
	if sigErr := verifyResult.SignatureError(); sigErr != nil {
		return "", errors.Wrap(sigErr, "PGP signature verification failed for feed")
	}

	return publicKey.GetHexKeyID(), nil
}
